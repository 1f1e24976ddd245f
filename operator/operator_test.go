package operator

import (
	"crypto/ecdsa"
	"encoding/json"
	"testing"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/chain"
	"github.com/colorfulnotion/commitchain/challenge"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/storage"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/colorfulnotion/commitchain/withdrawal"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	addr common.Address
	key  *ecdsa.PrivateKey
}

func devUser(t *testing.T, i int) user {
	addr, hexKey := common.GetEVMDevAccount(i)
	key, err := crypto.HexToECDSA(hexKey)
	require.NoError(t, err)
	return user{addr: addr, key: key}
}

func tx(u user, block uint64) types.TxContext {
	return types.TxContext{From: u.addr, Block: block}
}

func amt(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func setup(t *testing.T) (*chain.Chain, *Operator, *storage.Journal) {
	hub, _ := common.GetEVMDevAccount(0)
	p := types.DefaultParams(12, hub)
	p.GenesisBlock = 12
	c, err := chain.New(p, chain.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	ps, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })
	j, err := storage.OpenJournal(ps)
	require.NoError(t, err)
	return c, New(c, j), j
}

// pay signs the sender's next agreement in the hub's working eon.
func pay(t *testing.T, o *Operator, from user, to common.Address, amount uint64) {
	leaf, debit := o.Leaf(from.addr)
	debit.Add(debit, amt(amount))
	a, err := bimodal.SignAgreement(from.key, o.WorkingEon(), from.addr, leaf.Seq+1, debit)
	require.NoError(t, err)
	_, err = o.Transfer(a, to)
	require.NoError(t, err)
}

func leafAt(t *testing.T, c *chain.Chain, o *Operator, eon uint64, addr common.Address) types.Leaf {
	proof, err := o.Proof(eon, addr)
	require.NoError(t, err)
	root, err := c.Root(eon)
	require.NoError(t, err)
	leaf, err := proof.Verify(c.Verifier(), root, addr)
	require.NoError(t, err)
	return leaf
}

func TestHubLifecycle(t *testing.T) {
	c, o, j := setup(t)
	alice, bob, carol := devUser(t, 1), devUser(t, 2), devUser(t, 3)

	_, err := c.Deposit(tx(alice, 5), amt(100))
	require.NoError(t, err)
	_, err = c.Deposit(tx(bob, 6), amt(20))
	require.NoError(t, err)
	require.NoError(t, o.Step(6))
	assert.Equal(t, uint64(1), o.WorkingEon())

	require.NoError(t, o.Step(12))
	assert.Equal(t, uint64(2), o.WorkingEon())
	first := leafAt(t, c, o, 1, alice.addr)
	assert.Equal(t, uint64(100), first.Active.Uint64())

	pay(t, o, alice, bob.addr, 30)

	// alice checks eon 1 from the empty genesis root
	empty, err := o.Proof(0, alice.addr)
	require.NoError(t, err)
	ch, err := c.OpenChallenge(tx(alice, 13), 1, empty)
	require.NoError(t, err)
	require.NoError(t, o.Step(13))
	got, err := c.Challenge(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.Dismissed, got.Status)

	require.NoError(t, o.Step(21))
	assert.Equal(t, uint64(1), c.LastFinalized())

	proof1, err := o.Proof(1, alice.addr)
	require.NoError(t, err)
	w, err := c.RequestWithdrawal(tx(alice, 22), amt(20), &proof1)
	require.NoError(t, err)
	_, err = c.Deposit(tx(carol, 23), amt(7))
	require.NoError(t, err)
	require.NoError(t, o.Step(23))

	require.NoError(t, o.Step(24))
	leaf := leafAt(t, c, o, 2, alice.addr)
	assert.Equal(t, "80", types.FormatSigned(&leaf.Active))
	assert.Equal(t, "-30", types.FormatSigned(&leaf.Passive))
	assert.Equal(t, uint64(1), leaf.Seq)
	bobLeaf, carolLeaf := leafAt(t, c, o, 2, bob.addr), leafAt(t, c, o, 2, carol.addr)
	assert.Equal(t, "30", types.FormatSigned(&bobLeaf.Passive))
	assert.Equal(t, uint64(7), carolLeaf.Active.Uint64())

	// the off-chain spend needs alice's agreement to stand
	ch, err = c.OpenChallenge(tx(alice, 25), 2, proof1)
	require.NoError(t, err)
	require.NoError(t, o.Step(25))
	got, err = c.Challenge(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.Dismissed, got.Status)

	require.NoError(t, o.Step(33))
	assert.Equal(t, uint64(2), c.LastFinalized())
	view := c.Account(alice.addr)
	assert.Equal(t, uint64(2), view.BaselineEon)

	require.NoError(t, o.Step(36))
	_, err = c.ConfirmWithdrawal(tx(alice, 37), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(107), c.Custody().Uint64())
	aliceLeaf, bobLeaf := leafAt(t, c, o, 3, alice.addr), leafAt(t, c, o, 3, bob.addr)
	assert.Equal(t, uint64(50), aliceLeaf.Active.Uint64())
	assert.Equal(t, uint64(50), bobLeaf.Active.Uint64())

	_, faulted := c.Faulted()
	assert.False(t, faulted)
	assert.False(t, o.Halted())

	raw, ok, err := j.GetSealed(3)
	require.NoError(t, err)
	require.True(t, ok)
	var leaves []types.Leaf
	require.NoError(t, json.Unmarshal(raw, &leaves))
	assert.Len(t, leaves, 3)
	held, ok := o.Sealed(3)
	require.True(t, ok)
	assert.Equal(t, held, leaves)
}

func TestWithdrawalAfterOffChainSpend(t *testing.T) {
	c, o, _ := setup(t)
	alice, bob := devUser(t, 1), devUser(t, 2)

	_, err := c.Deposit(tx(alice, 5), amt(100))
	require.NoError(t, err)
	require.NoError(t, o.Step(12))
	require.NoError(t, o.Step(21))
	require.Equal(t, uint64(1), c.LastFinalized())

	// alice spends 60 off-chain, then asks for her whole committed balance
	pay(t, o, alice, bob.addr, 60)
	proof1, err := o.Proof(1, alice.addr)
	require.NoError(t, err)
	w, err := c.RequestWithdrawal(tx(alice, 22), amt(100), &proof1)
	require.NoError(t, err)

	require.NoError(t, o.Step(23))
	got, err := c.Withdrawal(w.ID)
	require.NoError(t, err)
	assert.Equal(t, withdrawal.Pending, got.Status)
	assert.Equal(t, uint64(40), got.Amount.Uint64())
	assert.Equal(t, uint64(60), got.Slashed.Uint64())
	var slashed []types.Event
	for _, ev := range c.Events(0) {
		if ev.Kind == types.EventWithdrawalSlashed {
			slashed = append(slashed, ev)
		}
	}
	require.Len(t, slashed, 1)
	assert.Equal(t, "60", slashed[0].Amount)
	assert.Equal(t, w.ID, slashed[0].Ref)

	require.NoError(t, o.Step(24))
	leaf := leafAt(t, c, o, 2, alice.addr)
	assert.Equal(t, "60", types.FormatSigned(&leaf.Active))
	assert.Equal(t, "-60", types.FormatSigned(&leaf.Passive))
	assert.Equal(t, uint64(1), leaf.Seq)

	ch, err := c.OpenChallenge(tx(alice, 25), 2, proof1)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), ch.Expect.Withdrawals.Uint64())
	require.NoError(t, o.Step(25))
	resolved, err := c.Challenge(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.Dismissed, resolved.Status)

	require.NoError(t, o.Step(33))
	assert.Equal(t, uint64(2), c.LastFinalized())
	require.NoError(t, o.Step(36))
	paid, err := c.ConfirmWithdrawal(tx(alice, 37), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), paid.Amount.Uint64())

	// what is left in custody is exactly bob's side of the payment
	assert.Equal(t, uint64(60), c.Custody().Uint64())
	bobLeaf := leafAt(t, c, o, 3, bob.addr)
	assert.Equal(t, uint64(60), bobLeaf.Active.Uint64())
	_, faulted := c.Faulted()
	assert.False(t, faulted)
	assert.False(t, o.Halted())
}

func TestHubStopsOnFault(t *testing.T) {
	c, o, _ := setup(t)
	alice := devUser(t, 1)
	_, err := c.Deposit(tx(alice, 5), amt(10))
	require.NoError(t, err)

	// the hub is offline through the submission window of eon 1
	require.NoError(t, c.Poke(tx(alice, 15)))
	e, faulted := c.Faulted()
	require.True(t, faulted)
	assert.Equal(t, uint64(1), e)

	require.NoError(t, o.Step(16))
	assert.True(t, o.Halted())
	_, err = o.Transfer(bimodal.Agreement{}, alice.addr)
	assert.Error(t, err)
}

func TestUnknownSealedEon(t *testing.T) {
	_, o, _ := setup(t)
	_, err := o.Proof(4, common.Address{})
	assert.ErrorContains(t, err, "no sealed tree")
}
