package storage

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	opPrefix   = []byte("op_")
	headKey    = []byte("journal_head")
	paramsKey  = []byte("journal_params")
	sealPrefix = []byte("seal_")
)

// Op is one inbound call to the commit-chain, as it arrived. Payload holds
// the call's RLP-encoded arguments.
type Op struct {
	Seq     uint64
	Kind    string
	From    common.Address
	Block   uint64
	Payload []byte
}

// Journal is an append-only log of Ops in a PersistenceStore. Replaying it
// against fresh state reproduces the state exactly.
type Journal struct {
	mu   sync.Mutex
	ps   *PersistenceStore
	head uint64
}

func OpenJournal(ps *PersistenceStore) (*Journal, error) {
	j := &Journal{ps: ps}
	raw, ok, err := ps.Get(headKey)
	if err != nil {
		return nil, err
	}
	if ok {
		j.head = common.BytesToUint64(raw)
	}
	return j, nil
}

func opKey(seq uint64) []byte {
	return append(append([]byte(nil), opPrefix...), common.Uint64ToBytes(seq)...)
}

// Append stores op under the next sequence number and returns it.
func (j *Journal) Append(op Op) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	op.Seq = j.head + 1
	enc, err := rlp.EncodeToBytes(&op)
	if err != nil {
		return 0, fmt.Errorf("encode op %s: %w", op.Kind, err)
	}
	if err := j.ps.WriteBatch([][2][]byte{
		{opKey(op.Seq), enc},
		{headKey, common.Uint64ToBytes(op.Seq)},
	}); err != nil {
		return 0, err
	}
	j.head = op.Seq
	log.Trace(log.StorageMonitoring, "journal append", "seq", op.Seq, "kind", op.Kind, "block", op.Block)
	return op.Seq, nil
}

// Ops returns every stored op in sequence order.
func (j *Journal) Ops() ([]Op, error) {
	kvs, err := j.ps.GetWithPrefix(opPrefix)
	if err != nil {
		return nil, err
	}
	ops := make([]Op, 0, len(kvs))
	for _, kv := range kvs {
		var op Op
		if err := rlp.DecodeBytes(kv[1], &op); err != nil {
			return nil, fmt.Errorf("decode op %x: %w", kv[0], err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (j *Journal) Head() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

// SaveParams pins the deployment parameters the journal was written under.
func (j *Journal) SaveParams(raw []byte) error {
	return j.ps.Put(paramsKey, raw)
}

func (j *Journal) LoadParams() ([]byte, bool, error) {
	return j.ps.Get(paramsKey)
}

// PutSealed stores the encoded leaves the hub sealed for eon.
func (j *Journal) PutSealed(eon uint64, raw []byte) error {
	key := append(append([]byte(nil), sealPrefix...), common.Uint64ToBytes(eon)...)
	return j.ps.Put(key, raw)
}

func (j *Journal) GetSealed(eon uint64) ([]byte, bool, error) {
	key := append(append([]byte(nil), sealPrefix...), common.Uint64ToBytes(eon)...)
	return j.ps.Get(key)
}
