package storage

import (
	"testing"

	"github.com/colorfulnotion/commitchain/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistenceStore_BasicOperations(t *testing.T) {
	ps, err := NewMemoryPersistenceStore()
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer ps.Close()

	key := []byte("test-key")
	value := []byte("test-value")
	if err := ps.Put(key, value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, found, err := ps.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected key to be found")
	}
	if string(got) != string(value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	if err := ps.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, found, err = ps.Get(key)
	if err != nil {
		t.Fatalf("Get after delete failed: %v", err)
	}
	if found {
		t.Error("Expected key to be deleted")
	}
}

func TestPersistenceStore_Prefix(t *testing.T) {
	ps, err := NewMemoryPersistenceStore()
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, ps.WriteBatch([][2][]byte{
		{[]byte("a_2"), []byte("two")},
		{[]byte("a_1"), []byte("one")},
		{[]byte("b_1"), []byte("other")},
	}))
	kvs, err := ps.GetWithPrefix([]byte("a_"))
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "one", string(kvs[0][1]))
	assert.Equal(t, "two", string(kvs[1][1]))

	h := common.Keccak256([]byte("k"))
	require.NoError(t, ps.PutHash(h, []byte("v")))
	v, err := ps.GetHash(h)
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
	_, err = ps.GetHash(common.Keccak256([]byte("missing")))
	assert.Error(t, err)
}

func TestJournalAppendAndReopen(t *testing.T) {
	dir := t.TempDir()
	ps, err := NewPersistenceStore(dir)
	require.NoError(t, err)

	j, err := OpenJournal(ps)
	require.NoError(t, err)
	from := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	for i := uint64(1); i <= 300; i++ {
		seq, err := j.Append(Op{Kind: "deposit", From: from, Block: i, Payload: []byte{byte(i)}})
		require.NoError(t, err)
		assert.Equal(t, i, seq)
	}
	require.NoError(t, j.SaveParams([]byte(`{"blocks_per_eon":12}`)))
	require.NoError(t, j.PutSealed(3, []byte("leaves")))
	require.NoError(t, ps.Close())

	ps, err = NewPersistenceStore(dir)
	require.NoError(t, err)
	defer ps.Close()
	j, err = OpenJournal(ps)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), j.Head())

	ops, err := j.Ops()
	require.NoError(t, err)
	require.Len(t, ops, 300)
	// big-endian keys keep sequence order past one byte
	for i, op := range ops {
		assert.Equal(t, uint64(i+1), op.Seq)
		assert.Equal(t, from, op.From)
	}

	raw, ok, err := j.LoadParams()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), "blocks_per_eon")
	sealed, ok, err := j.GetSealed(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "leaves", string(sealed))
	_, ok, err = j.GetSealed(4)
	require.NoError(t, err)
	assert.False(t, ok)
}
