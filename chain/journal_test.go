package chain

import (
	"testing"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/challenge"
	"github.com/colorfulnotion/commitchain/storage"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreReplaysJournal(t *testing.T) {
	ps, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	defer ps.Close()
	j, err := storage.OpenJournal(ps)
	require.NoError(t, err)

	c := newChain(t, WithJournal(j))
	_, err = c.Deposit(tx(alice, 5), amt(100))
	require.NoError(t, err)
	_, err = c.Deposit(tx(bob, 6), amt(0))
	require.Error(t, err)
	tree1 := commit(t, c, 12, 1, types.NewLeaf(alice, 100, 0, 0))
	require.NoError(t, c.Poke(tx(bob, 21)))
	_, err = c.RequestWithdrawal(tx(alice, 22), amt(30), ptr(prove(t, tree1, alice)))
	require.NoError(t, err)
	_, err = c.Deposit(tx(alice, 23), amt(5))
	require.NoError(t, err)

	// the hub forgets the withdrawal
	tree2 := commit(t, c, 24, 2, types.NewLeaf(alice, 105, 0, 0))
	ch, err := c.OpenChallenge(tx(alice, 25), 2, prove(t, tree1, alice))
	require.NoError(t, err)
	status, err := c.RespondToChallenge(tx(hub, 26), ch.ID, challenge.Response{Proof: prove(t, tree2, alice)})
	require.NoError(t, err)
	require.Equal(t, challenge.Upheld, status)
	_, err = c.ClaimRecovery(tx(bob, 27), alice, nil)
	require.NoError(t, err)

	err = c.Poke(tx(bob, 3))
	require.Error(t, err, "regressing calls are not journaled")
	assert.Equal(t, uint64(10), j.Head())

	restored, err := Restore(testParams(), j)
	require.NoError(t, err)
	assert.Equal(t, c.Events(0), restored.Events(0))
	assert.Equal(t, c.Account(alice), restored.Account(alice))
	assert.Equal(t, c.Custody(), restored.Custody())
	assert.Equal(t, c.LastBlock(), restored.LastBlock())
	rec, ok := restored.Recovery(alice)
	require.True(t, ok)
	// the pending withdrawal was never debited in eon 1, so recovery pays it too
	assert.Equal(t, uint64(105), rec.Payout.Uint64())
	w, err := restored.Withdrawal(1)
	require.NoError(t, err)
	assert.Equal(t, "Recovered", w.Status.String())

	// the restored chain keeps journaling
	require.NoError(t, restored.Poke(tx(bob, 30)))
	assert.Equal(t, uint64(11), j.Head())
}

func TestReplayDecodesProofs(t *testing.T) {
	ps, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	defer ps.Close()
	j, err := storage.OpenJournal(ps)
	require.NoError(t, err)

	c := newChain(t, WithJournal(j))
	empty, err := bimodal.Build(c.Verifier().Hasher(), nil)
	require.NoError(t, err)
	commit(t, c, 12, 1)
	_, err = c.SubmitBalanceProof(tx(alice, 21), 1, prove(t, empty, alice))
	require.NoError(t, err)

	restored, err := Restore(testParams(), j)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), restored.Account(alice).BaselineEon)

	_, err = j.Append(storage.Op{Kind: "bogus", Block: 40})
	require.NoError(t, err)
	_, err = Restore(testParams(), j)
	assert.Error(t, err)
}

func TestReplaySlash(t *testing.T) {
	ps, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	defer ps.Close()
	j, err := storage.OpenJournal(ps)
	require.NoError(t, err)

	c := newChain(t, WithJournal(j))
	_, err = c.Deposit(tx(alice, 5), amt(100))
	require.NoError(t, err)
	tree1 := commit(t, c, 12, 1, types.NewLeaf(alice, 100, 0, 0))
	require.NoError(t, c.Poke(tx(bob, 21)))
	p1 := prove(t, tree1, alice)
	w, err := c.RequestWithdrawal(tx(alice, 22), amt(100), &p1)
	require.NoError(t, err)
	a, err := bimodal.SignAgreement(signer(t, 1), 2, alice, 1, amt(40))
	require.NoError(t, err)
	_, err = c.SlashWithdrawal(tx(hub, 23), w.ID, p1, a)
	require.NoError(t, err)

	restored, err := Restore(testParams(), j)
	require.NoError(t, err)
	got, err := restored.Withdrawal(w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), got.Amount.Uint64())
	assert.Equal(t, uint64(40), got.Slashed.Uint64())
	assert.Equal(t, c.Events(0), restored.Events(0))
}
