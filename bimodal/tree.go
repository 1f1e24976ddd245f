package bimodal

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/merkle"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/xlab/treeprint"
	"golang.org/x/exp/slices"
)

// Tree is one eon's bimodal tree: one leaf per account, ordered by address.
type Tree struct {
	hasher merkle.Hasher
	leaves []types.Leaf
	tree   *merkle.Tree
}

func compareLeaves(a, b types.Leaf) int {
	return a.Address.Cmp(b.Address)
}

// Build canonicalises leaves by address and rejects duplicates and negative balances.
func Build(h merkle.Hasher, leaves []types.Leaf) (*Tree, error) {
	sorted := slices.Clone(leaves)
	slices.SortFunc(sorted, compareLeaves)
	encoded := make([][]byte, len(sorted))
	for i, l := range sorted {
		if i > 0 && sorted[i-1].Address == l.Address {
			return nil, fmt.Errorf("%w: %s", chainerrors.ErrIDuplicateAccount, l.Address.Hex())
		}
		if err := Validate(l); err != nil {
			return nil, err
		}
		encoded[i] = EncodeLeaf(l)
	}
	return &Tree{hasher: h, leaves: sorted, tree: merkle.NewTree(h, encoded)}, nil
}

// ComputeRoot is the canonical root of an account set, independent of input order.
func ComputeRoot(h merkle.Hasher, leaves []types.Leaf) (common.Hash, error) {
	t, err := Build(h, leaves)
	if err != nil {
		return common.Hash{}, err
	}
	return t.Root(), nil
}

func (t *Tree) Root() common.Hash {
	return t.tree.Root()
}

func (t *Tree) Len() int {
	return len(t.leaves)
}

// Leaves returns the leaves in tree order.
func (t *Tree) Leaves() []types.Leaf {
	return slices.Clone(t.leaves)
}

func (t *Tree) find(addr common.Address) (int, bool) {
	return slices.BinarySearchFunc(t.leaves, addr, func(l types.Leaf, a common.Address) int {
		return l.Address.Cmp(a)
	})
}

// Leaf returns the account's leaf, or the empty leaf if it is absent.
func (t *Tree) Leaf(addr common.Address) (types.Leaf, bool) {
	i, ok := t.find(addr)
	if !ok {
		return types.EmptyLeaf(addr), false
	}
	return t.leaves[i], true
}

// Prove returns an inclusion proof for present accounts and an exclusion
// proof for absent ones.
func (t *Tree) Prove(addr common.Address) (BalanceProof, error) {
	i, ok := t.find(addr)
	if ok {
		p, err := t.tree.Prove(i)
		if err != nil {
			return BalanceProof{}, err
		}
		return BalanceProof{Inclusion: &InclusionProof{Leaf: t.leaves[i], Path: p}}, nil
	}
	excl := &merkle.ExclusionProof{TreeSize: uint64(len(t.leaves))}
	if i > 0 {
		n, err := t.neighbor(i - 1)
		if err != nil {
			return BalanceProof{}, err
		}
		excl.Left = n
	}
	if i < len(t.leaves) {
		n, err := t.neighbor(i)
		if err != nil {
			return BalanceProof{}, err
		}
		excl.Right = n
	}
	return BalanceProof{Exclusion: excl}, nil
}

func (t *Tree) neighbor(i int) (*merkle.Neighbor, error) {
	p, err := t.tree.Prove(i)
	if err != nil {
		return nil, err
	}
	return &merkle.Neighbor{Leaf: EncodeLeaf(t.leaves[i]), Proof: p}, nil
}

// Print renders the accounts under the root for operators.
func (t *Tree) Print(eon uint64) string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("eon %d root %s (%d accounts)", eon, t.Root().String_short(), len(t.leaves)))
	for _, l := range t.leaves {
		branch := tree.AddBranch(l.Address.Hex())
		branch.AddNode(fmt.Sprintf("active: %s", l.Active.Dec()))
		branch.AddNode(fmt.Sprintf("passive: %s", types.FormatSigned(&l.Passive)))
		branch.AddNode(fmt.Sprintf("seq: %d", l.Seq))
	}
	return tree.String()
}
