package merkle

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/colorfulnotion/commitchain/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = []byte(fmt.Sprintf("leaf-%03d", i))
	}
	return leaves
}

func TestInclusionAllSizes(t *testing.T) {
	h := MustHasher(Keccak)
	v := NewVerifier(h)
	for n := 1; n <= 17; n++ {
		leaves := makeLeaves(n)
		tree := NewTree(h, leaves)
		root := tree.Root()
		for i := range leaves {
			p, err := tree.Prove(i)
			require.NoError(t, err)
			assert.True(t, v.VerifyInclusion(root, leaves[i], p), "n=%d i=%d", n, i)
			if n > 1 {
				other := leaves[(i+1)%n]
				assert.False(t, v.VerifyInclusion(root, other, p), "n=%d i=%d swapped leaf", n, i)
			}
		}
	}
}

func TestSingleLeafTree(t *testing.T) {
	h := MustHasher(Keccak)
	tree := NewTree(h, [][]byte{[]byte("only")})
	p, err := tree.Prove(0)
	require.NoError(t, err)
	assert.Empty(t, p.Siblings)
	assert.Equal(t, h.Root(1, h.Leaf([]byte("only"))), tree.Root())
	assert.True(t, NewVerifier(h).VerifyInclusion(tree.Root(), []byte("only"), p))
}

func flipBit(b []byte, bit int) []byte {
	out := append([]byte(nil), b...)
	out[bit/8] ^= 1 << (bit % 8)
	return out
}

func TestSingleBitMutationsFail(t *testing.T) {
	h := MustHasher(Keccak)
	v := NewVerifier(h)
	leaves := makeLeaves(11)
	tree := NewTree(h, leaves)
	root := tree.Root()
	idx := 6
	p, err := tree.Prove(idx)
	require.NoError(t, err)
	require.True(t, v.VerifyInclusion(root, leaves[idx], p))

	for bit := 0; bit < len(leaves[idx])*8; bit++ {
		assert.False(t, v.VerifyInclusion(root, flipBit(leaves[idx], bit), p), "leaf bit %d", bit)
	}
	for bit := 0; bit < common.HashLength*8; bit++ {
		badRoot := common.BytesToHash(flipBit(root.Bytes(), bit))
		assert.False(t, v.VerifyInclusion(badRoot, leaves[idx], p), "root bit %d", bit)
	}
	for s := range p.Siblings {
		for bit := 0; bit < common.HashLength*8; bit++ {
			mutated := Proof{Index: p.Index, TreeSize: p.TreeSize, Siblings: append([]common.Hash(nil), p.Siblings...)}
			mutated.Siblings[s] = common.BytesToHash(flipBit(p.Siblings[s].Bytes(), bit))
			assert.False(t, v.VerifyInclusion(root, leaves[idx], mutated), "sibling %d bit %d", s, bit)
		}
	}
}

func TestMalformedProofsFailClosed(t *testing.T) {
	h := MustHasher(Keccak)
	v := NewVerifier(h)
	leaves := makeLeaves(8)
	tree := NewTree(h, leaves)
	root := tree.Root()
	p, err := tree.Prove(3)
	require.NoError(t, err)

	short := Proof{Index: p.Index, TreeSize: p.TreeSize, Siblings: p.Siblings[1:]}
	assert.False(t, v.VerifyInclusion(root, leaves[3], short))

	long := Proof{Index: p.Index, TreeSize: p.TreeSize, Siblings: append(append([]common.Hash(nil), p.Siblings...), common.Hash{})}
	assert.False(t, v.VerifyInclusion(root, leaves[3], long))

	assert.False(t, v.VerifyInclusion(root, leaves[3], Proof{Index: 8, TreeSize: 8, Siblings: p.Siblings}))
	assert.False(t, v.VerifyInclusion(root, leaves[3], Proof{}))

	// same path under a smaller claimed size yields a different commitment
	assert.False(t, v.VerifyInclusion(root, leaves[3], Proof{Index: p.Index, TreeSize: 7, Siblings: p.Siblings}))

	_, err = tree.Prove(8)
	assert.Error(t, err)
}

func TestEmptyTree(t *testing.T) {
	h := MustHasher(Keccak)
	tree := NewTree(h, nil)
	assert.Equal(t, EmptyRoot(h), tree.Root())
	_, err := tree.Prove(0)
	assert.Error(t, err)
	v := NewVerifier(h)
	assert.True(t, v.VerifyExclusion(tree.Root(), []byte{1}, ExclusionProof{}))
	assert.False(t, v.VerifyExclusion(NewTree(h, makeLeaves(1)).Root(), []byte{1}, ExclusionProof{}))
}

func keyedLeaves(keys ...uint32) [][]byte {
	leaves := make([][]byte, len(keys))
	for i, k := range keys {
		leaf := make([]byte, 8)
		binary.BigEndian.PutUint32(leaf, k)
		binary.BigEndian.PutUint32(leaf[4:], k*10)
		leaves[i] = leaf
	}
	return leaves
}

func key(k uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, k)
	return b
}

func neighbor(t *testing.T, tree *Tree, i int) *Neighbor {
	p, err := tree.Prove(i)
	require.NoError(t, err)
	leaf, err := tree.Leaf(i)
	require.NoError(t, err)
	return &Neighbor{Leaf: leaf, Proof: p}
}

func TestExclusion(t *testing.T) {
	h := MustHasher(Blake2b)
	v := NewVerifier(h)
	tree := NewTree(h, keyedLeaves(10, 20, 30, 40, 50))
	root := tree.Root()
	size := uint64(tree.Len())

	cases := []struct {
		name  string
		key   uint32
		proof ExclusionProof
		want  bool
	}{
		{"below first", 5, ExclusionProof{TreeSize: size, Right: neighbor(t, tree, 0)}, true},
		{"between", 25, ExclusionProof{TreeSize: size, Left: neighbor(t, tree, 1), Right: neighbor(t, tree, 2)}, true},
		{"above last", 60, ExclusionProof{TreeSize: size, Left: neighbor(t, tree, 4)}, true},
		{"present key", 30, ExclusionProof{TreeSize: size, Left: neighbor(t, tree, 1), Right: neighbor(t, tree, 2)}, false},
		{"present key as left", 20, ExclusionProof{TreeSize: size, Left: neighbor(t, tree, 1), Right: neighbor(t, tree, 2)}, false},
		{"gap skipped", 25, ExclusionProof{TreeSize: size, Left: neighbor(t, tree, 0), Right: neighbor(t, tree, 2)}, false},
		{"left not last", 60, ExclusionProof{TreeSize: size, Left: neighbor(t, tree, 3)}, false},
		{"right not first", 5, ExclusionProof{TreeSize: size, Right: neighbor(t, tree, 1)}, false},
		{"no neighbors", 25, ExclusionProof{TreeSize: size}, false},
		{"size mismatch", 25, ExclusionProof{TreeSize: size + 1, Left: neighbor(t, tree, 1), Right: neighbor(t, tree, 2)}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, v.VerifyExclusion(root, key(c.key), c.proof), c.name)
	}

	short := &Neighbor{Leaf: []byte{0}, Proof: neighbor(t, tree, 0).Proof}
	assert.False(t, v.VerifyExclusion(root, key(5), ExclusionProof{TreeSize: size, Right: short}))
}

func TestHashTypes(t *testing.T) {
	leaves := makeLeaves(3)
	k := NewTree(MustHasher(Keccak), leaves).Root()
	b := NewTree(MustHasher(Blake2b), leaves).Root()
	assert.NotEqual(t, k, b)
	_, err := NewHasher("sha256")
	assert.Error(t, err)
	def, err := NewHasher("")
	require.NoError(t, err)
	assert.Equal(t, Keccak, def.Type())
	assert.Contains(t, NewTree(def, leaves).String(), "[Leaf Right]")
}
