package merkle

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/common"
)

type HashType string

const (
	Keccak  HashType = "keccak"
	Blake2b HashType = "blake2b"
)

var (
	leafPrefix = []byte("leaf")
	nodePrefix = []byte("node")
	sizePrefix = []byte("size")
)

// Hasher fixes the domain-separated hashing of one deployment's trees.
type Hasher interface {
	Type() HashType
	Leaf(data []byte) common.Hash
	Node(left, right common.Hash) common.Hash
	// Root binds the leaf count into the published commitment.
	Root(size uint64, top common.Hash) common.Hash
}

// NewHasher returns the hasher for t; the empty string selects Keccak.
func NewHasher(t HashType) (Hasher, error) {
	switch t {
	case "", Keccak:
		return hasher{typ: Keccak, sum: common.Keccak256}, nil
	case Blake2b:
		return hasher{typ: Blake2b, sum: common.Blake2Hash}, nil
	}
	return nil, fmt.Errorf("unknown hash type %q", t)
}

// MustHasher is NewHasher for hash types already validated by the caller.
func MustHasher(t HashType) Hasher {
	h, err := NewHasher(t)
	if err != nil {
		panic(err)
	}
	return h
}

type hasher struct {
	typ HashType
	sum func(data ...[]byte) common.Hash
}

func (h hasher) Type() HashType { return h.typ }

func (h hasher) Leaf(data []byte) common.Hash {
	return h.sum(leafPrefix, data)
}

func (h hasher) Node(left, right common.Hash) common.Hash {
	return h.sum(nodePrefix, left.Bytes(), right.Bytes())
}

func (h hasher) Root(size uint64, top common.Hash) common.Hash {
	return h.sum(sizePrefix, common.Uint64ToBytes(size), top.Bytes())
}

// EmptyRoot is the commitment to a tree with no leaves.
func EmptyRoot(h Hasher) common.Hash {
	return h.Root(0, common.Hash{})
}
