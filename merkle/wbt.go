package merkle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/colorfulnotion/commitchain/common"
)

// wbtNode is a node in the well-balanced tree. Leaves keep their encoded value.
type wbtNode struct {
	hash  common.Hash
	value []byte
	left  *wbtNode
	right *wbtNode
}

// Tree is a well-balanced binary Merkle tree: a range of n leaves splits into
// ceil(n/2) on the left and the rest on the right.
type Tree struct {
	hasher Hasher
	leaves []*wbtNode
	top    *wbtNode
}

// Proof is an inclusion path. Siblings run leaf to root; their left/right
// position is implied by Index and TreeSize.
type Proof struct {
	Index    uint64        `json:"index"`
	TreeSize uint64        `json:"tree_size"`
	Siblings []common.Hash `json:"siblings"`
}

// NewTree builds a tree over the leaves in the given order.
func NewTree(h Hasher, values [][]byte) *Tree {
	leaves := make([]*wbtNode, len(values))
	for i, v := range values {
		leaves[i] = &wbtNode{hash: h.Leaf(v), value: v}
	}
	t := &Tree{hasher: h, leaves: leaves}
	if len(leaves) > 0 {
		t.top = buildTreeRecursive(h, leaves)
	}
	return t
}

// Recursively merge children with ceil-splitting.
func buildTreeRecursive(h Hasher, nodes []*wbtNode) *wbtNode {
	if len(nodes) == 1 {
		return nodes[0]
	}
	mid := (len(nodes) + 1) / 2
	left := buildTreeRecursive(h, nodes[:mid])
	right := buildTreeRecursive(h, nodes[mid:])
	return &wbtNode{hash: h.Node(left.hash, right.hash), left: left, right: right}
}

func (t *Tree) Len() int {
	return len(t.leaves)
}

// Root returns the size-bound commitment.
func (t *Tree) Root() common.Hash {
	var top common.Hash
	if t.top != nil {
		top = t.top.hash
	}
	return t.hasher.Root(uint64(len(t.leaves)), top)
}

// Leaf returns the encoded leaf at index.
func (t *Tree) Leaf(index int) ([]byte, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, errors.New("index out of range")
	}
	return t.leaves[index].value, nil
}

// Prove returns the inclusion path of the leaf at index.
func (t *Tree) Prove(index int) (Proof, error) {
	n := len(t.leaves)
	if index < 0 || index >= n {
		return Proof{}, fmt.Errorf("index %d out of range [0,%d)", index, n)
	}
	var siblings []common.Hash
	node, idx := t.top, index
	for n > 1 {
		mid := (n + 1) / 2
		if idx < mid {
			siblings = append(siblings, node.right.hash)
			node, n = node.left, mid
		} else {
			siblings = append(siblings, node.left.hash)
			node, idx, n = node.right, idx-mid, n-mid
		}
	}
	reverseHashes(siblings)
	return Proof{Index: uint64(index), TreeSize: uint64(len(t.leaves)), Siblings: siblings}, nil
}

// String renders the tree one node per line, for debugging.
func (t *Tree) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Root]: %s (%d leaves)\n", t.Root().Hex(), len(t.leaves))
	writeNode(&sb, t.top, 1, "Top")
	return sb.String()
}

func writeNode(sb *strings.Builder, node *wbtNode, level int, pos string) {
	if node == nil {
		return
	}
	prefix := strings.Repeat("  ", level)
	if node.left == nil && node.right == nil {
		fmt.Fprintf(sb, "%s[Leaf %s]: %s\n", prefix, pos, node.hash.Hex())
		return
	}
	fmt.Fprintf(sb, "%s[Branch %s]: %s\n", prefix, pos, node.hash.Hex())
	writeNode(sb, node.left, level+1, "Left")
	writeNode(sb, node.right, level+1, "Right")
}

// directions walks from the top using ceil-splitting; true means the target
// is in the right subtree at that level.
func directions(index, size uint64) []bool {
	var dirs []bool
	for n := size; n > 1; {
		leftCount := (n + 1) / 2
		if index < leftCount {
			dirs = append(dirs, false)
			n = leftCount
		} else {
			dirs = append(dirs, true)
			index -= leftCount
			n -= leftCount
		}
	}
	return dirs
}

func reverseHashes(a []common.Hash) {
	for i := 0; i < len(a)/2; i++ {
		j := len(a) - i - 1
		a[i], a[j] = a[j], a[i]
	}
}
