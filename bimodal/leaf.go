package bimodal

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/types"
)

// LeafSize is address(20) || active(32) || passive(32) || seq(8).
const LeafSize = common.AddressLength + 32 + 32 + 8

// EncodeLeaf produces the byte layout shared by proof builders and verifiers.
func EncodeLeaf(l types.Leaf) []byte {
	out := make([]byte, 0, LeafSize)
	out = append(out, l.Address[:]...)
	active := l.Active.Bytes32()
	passive := l.Passive.Bytes32()
	out = append(out, active[:]...)
	out = append(out, passive[:]...)
	out = append(out, common.Uint64ToBytes(l.Seq)...)
	return out
}

func DecodeLeaf(b []byte) (types.Leaf, error) {
	if len(b) != LeafSize {
		return types.Leaf{}, fmt.Errorf("%w: leaf is %d bytes, want %d", chainerrors.ErrIMalformedProof, len(b), LeafSize)
	}
	var l types.Leaf
	copy(l.Address[:], b[:common.AddressLength])
	off := common.AddressLength
	l.Active.SetBytes32(b[off : off+32])
	l.Passive.SetBytes32(b[off+32 : off+64])
	l.Seq = common.BytesToUint64(b[off+64:])
	return l, nil
}

// Validate enforces Active + Passive >= 0.
func Validate(l types.Leaf) error {
	if _, ok := l.Total(); !ok {
		return fmt.Errorf("%w: %s", chainerrors.ErrINegativeBalance, l)
	}
	return nil
}
