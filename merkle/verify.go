package merkle

import (
	"bytes"

	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Neighbor is a leaf adjacent to an absent key, with its inclusion path.
type Neighbor struct {
	Leaf  hexutil.Bytes `json:"leaf"`
	Proof Proof         `json:"proof"`
}

// ExclusionProof shows a key is absent from a tree whose leaves are sorted by
// key prefix. Left is the greatest leaf below the key, Right the least above.
type ExclusionProof struct {
	TreeSize uint64    `json:"tree_size"`
	Left     *Neighbor `json:"left,omitempty" rlp:"nil"`
	Right    *Neighbor `json:"right,omitempty" rlp:"nil"`
}

// Verifier checks proofs against committed roots. It keeps no state.
type Verifier struct {
	hasher Hasher
}

func NewVerifier(h Hasher) Verifier {
	return Verifier{hasher: h}
}

func (v Verifier) Hasher() Hasher {
	return v.hasher
}

// ComputeRoot folds leaf up the path. ok is false when the path length does
// not match the depth implied by (Index, TreeSize).
func (v Verifier) ComputeRoot(leaf []byte, p Proof) (root common.Hash, ok bool) {
	if p.TreeSize == 0 || p.Index >= p.TreeSize {
		return common.Hash{}, false
	}
	dirs := directions(p.Index, p.TreeSize)
	if len(dirs) != len(p.Siblings) {
		return common.Hash{}, false
	}
	current := v.hasher.Leaf(leaf)
	for i, sib := range p.Siblings {
		if dirs[len(dirs)-1-i] {
			current = v.hasher.Node(sib, current)
		} else {
			current = v.hasher.Node(current, sib)
		}
	}
	return v.hasher.Root(p.TreeSize, current), true
}

// VerifyInclusion reports whether leaf sits at p.Index of the tree committed to by root.
func (v Verifier) VerifyInclusion(root common.Hash, leaf []byte, p Proof) bool {
	computed, ok := v.ComputeRoot(leaf, p)
	if !ok {
		log.Trace(log.MerkleMonitoring, "malformed inclusion proof", "index", p.Index, "size", p.TreeSize, "siblings", len(p.Siblings))
		return false
	}
	return computed == root
}

// VerifyExclusion reports whether key is absent from the tree committed to by root.
func (v Verifier) VerifyExclusion(root common.Hash, key []byte, p ExclusionProof) bool {
	if len(key) == 0 {
		return false
	}
	if p.TreeSize == 0 {
		return p.Left == nil && p.Right == nil && root == EmptyRoot(v.hasher)
	}
	if p.Left == nil && p.Right == nil {
		return false
	}
	if p.Left != nil {
		if !v.neighborValid(root, p.Left, p.TreeSize, len(key)) || bytes.Compare(p.Left.Leaf[:len(key)], key) >= 0 {
			return false
		}
	}
	if p.Right != nil {
		if !v.neighborValid(root, p.Right, p.TreeSize, len(key)) || bytes.Compare(key, p.Right.Leaf[:len(key)]) >= 0 {
			return false
		}
	}
	switch {
	case p.Left == nil:
		return p.Right.Proof.Index == 0
	case p.Right == nil:
		return p.Left.Proof.Index == p.TreeSize-1
	default:
		return p.Right.Proof.Index == p.Left.Proof.Index+1
	}
}

func (v Verifier) neighborValid(root common.Hash, n *Neighbor, size uint64, keyLen int) bool {
	if n.Proof.TreeSize != size || len(n.Leaf) < keyLen {
		return false
	}
	return v.VerifyInclusion(root, n.Leaf, n.Proof)
}
