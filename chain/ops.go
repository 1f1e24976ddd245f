package chain

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/challenge"
	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/deposit"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/recovery"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/colorfulnotion/commitchain/withdrawal"
	"github.com/holiman/uint256"
)

func (c *Chain) exited(addr common.Address) bool {
	a, ok := c.accounts[addr]
	return ok && a.exited
}

func (c *Chain) live(addr common.Address) error {
	if c.faulted() {
		return fmt.Errorf("%w: eon %d", chainerrors.ErrHChainHalted, c.faultEon)
	}
	if c.exited(addr) {
		return fmt.Errorf("%w: %s", chainerrors.ErrPAccountExited, addr.Hex())
	}
	return nil
}

// Deposit records amount sent by tx.From. It joins the active balance of
// the next eon's leaf.
func (c *Chain) Deposit(tx types.TxContext, amount *uint256.Int) (d deposit.Deposit, err error) {
	c.mu.Lock()
	defer func() { c.end(opDeposit, err) }()
	if err = c.begin(tx, opDeposit, &depositArgs{Amount: amount}); err != nil {
		return
	}
	if err = c.live(tx.From); err != nil {
		return
	}
	if d, err = c.deposits.Record(tx.From, amount, c.params.EonAt(tx.Block), tx.Block); err != nil {
		return
	}
	c.custody.Add(&c.custody, &d.Amount)
	c.emit(d.Event())
	return d, nil
}

// RequestWithdrawal reserves amount of tx.From's balance at the last
// finalized eon. proof, when given, anchors that balance first.
func (c *Chain) RequestWithdrawal(tx types.TxContext, amount *uint256.Int, proof *bimodal.BalanceProof) (r withdrawal.Request, err error) {
	c.mu.Lock()
	defer func() { c.end(opRequestWithdrawal, err) }()
	if err = c.begin(tx, opRequestWithdrawal, &requestArgs{Amount: amount, Proof: proof}); err != nil {
		return
	}
	if err = c.live(tx.From); err != nil {
		return
	}
	cand, err := c.current(tx.From, proof)
	if err != nil {
		return
	}
	avail, err := c.available(tx.From, &cand)
	if err != nil {
		return
	}
	if r, err = c.withdrawals.Request(tx.From, amount, avail, c.params.EonAt(tx.Block), c.params.WithdrawalDelayEons, tx.Block); err != nil {
		return
	}
	c.anchor(tx.From, c.account(tx.From), cand.baselineEon, cand.baseline)
	c.emit(r.Event(types.EventWithdrawalRequested, tx.Block))
	return r, nil
}

// ConfirmWithdrawal pays out request id once its deadline eon is reached.
func (c *Chain) ConfirmWithdrawal(tx types.TxContext, id uint64) (r withdrawal.Request, err error) {
	c.mu.Lock()
	defer func() { c.end(opConfirmWithdrawal, err) }()
	if err = c.begin(tx, opConfirmWithdrawal, &confirmArgs{ID: id}); err != nil {
		return
	}
	eon := c.params.EonAt(tx.Block)
	if r, err = c.withdrawals.Get(id); err != nil {
		return
	}
	if r.Settled() {
		_, err = c.withdrawals.CheckConfirm(id, eon)
		return
	}
	if c.faulted() {
		err = fmt.Errorf("%w: withdrawal %d settles through recovery", chainerrors.ErrHChainHalted, id)
		return
	}
	if _, err = c.withdrawals.CheckConfirm(id, eon); err != nil {
		return
	}
	if c.challenges.HasUpheld(r.Account, r.Eon, r.DeadlineEon) {
		err = fmt.Errorf("%w: withdrawal %d", chainerrors.ErrHWithdrawalContested, id)
		return
	}
	if r.Amount.Gt(&c.custody) {
		err = fmt.Errorf("%w: custody %s short of %s", chainerrors.ErrBInsufficientBalance, c.custody.Dec(), r.Amount.Dec())
		return
	}
	if r, err = c.withdrawals.Confirm(id, eon, tx.Block); err != nil {
		return
	}
	c.custody.Sub(&c.custody, &r.Amount)
	c.emit(r.Event(types.EventWithdrawalConfirmed, tx.Block))
	return r, nil
}

// SlashWithdrawal lets the hub cut pending request id down to what the
// owner still holds after the spending it agreed to off-chain. proof is the
// owner's leaf in the root of the request's eon and agreement is its signed
// debit for the eon the request debits. The cut is only possible before the
// debiting root is committed.
func (c *Chain) SlashWithdrawal(tx types.TxContext, id uint64, proof bimodal.BalanceProof, agreement bimodal.Agreement) (r withdrawal.Request, err error) {
	c.mu.Lock()
	defer func() { c.end(opSlashWithdrawal, err) }()
	if err = c.begin(tx, opSlashWithdrawal, &slashArgs{ID: id, Proof: proof, Agreement: agreement}); err != nil {
		return
	}
	if tx.From != c.params.Hub {
		err = fmt.Errorf("%w: %s", chainerrors.ErrPNotHub, tx.From.Hex())
		return
	}
	if c.faulted() {
		err = fmt.Errorf("%w: eon %d", chainerrors.ErrHChainHalted, c.faultEon)
		return
	}
	if r, err = c.withdrawals.Get(id); err != nil {
		return
	}
	if r.Settled() {
		err = fmt.Errorf("%w: withdrawal %d is %s", chainerrors.ErrPAlreadySettled, id, r.Status)
		return
	}
	if r.DebitEon < uint64(len(c.eons)) && c.eons[r.DebitEon].Status != types.EonOpen {
		err = fmt.Errorf("%w: withdrawal %d, eon %d is %s", chainerrors.ErrPDebitCommitted, id, r.DebitEon, c.eons[r.DebitEon].Status)
		return
	}
	root, err := c.rootOf(r.Eon)
	if err != nil {
		return
	}
	leaf, err := proof.Verify(c.verifier, root, r.Account)
	if err != nil {
		return
	}
	switch {
	case agreement.Account != r.Account:
		err = fmt.Errorf("%w: agreement is for %s", chainerrors.ErrIProofMismatch, agreement.Account.Hex())
		return
	case agreement.Eon != r.DebitEon:
		err = fmt.Errorf("%w: agreement is for eon %d, withdrawal debits eon %d", chainerrors.ErrIProofMismatch, agreement.Eon, r.DebitEon)
		return
	}
	if err = agreement.Verify(); err != nil {
		return
	}

	// what the owner holds going into the debiting eon against what it
	// has agreed to spend there plus every withdrawal debited there
	total, ok := leaf.Total()
	if !ok {
		err = fmt.Errorf("%w: leaf of %s", chainerrors.ErrINegativeBalance, r.Account.Hex())
		return
	}
	held, ok := types.Sum(total, c.deposits.Sum(r.Account, func(d deposit.Deposit) bool { return d.TargetEon == r.DebitEon }))
	if !ok {
		err = fmt.Errorf("balance of %s overflows", r.Account.Hex())
		return
	}
	owed, ok := types.Sum(&agreement.Debit, c.withdrawals.Sum(r.Account, func(w withdrawal.Request) bool {
		return w.DebitEon == r.DebitEon && w.Status != withdrawal.Recovered
	}))
	if !ok {
		err = fmt.Errorf("spending of %s overflows", r.Account.Hex())
		return
	}
	cut, ok := types.SubChecked(owed, held)
	if !ok || cut.IsZero() {
		err = fmt.Errorf("%w: withdrawal %d, held %s, owed %s", chainerrors.ErrPWithdrawalCovered, id, held.Dec(), owed.Dec())
		return
	}
	before := r.Amount
	if r, err = c.withdrawals.Slash(id, cut, tx.Block); err != nil {
		return
	}
	ev := r.Event(types.EventWithdrawalSlashed, tx.Block)
	ev.SetAmount(new(uint256.Int).Sub(&before, &r.Amount))
	c.emit(ev)
	log.Info(log.ChainMonitoring, "withdrawal slashed", "id", id, "account", r.Account, "cut", ev.Amount, "left", r.Amount.Dec())
	return r, nil
}

// SubmitCommitment publishes the hub's root for the current eon.
func (c *Chain) SubmitCommitment(tx types.TxContext, eon uint64, root common.Hash) (err error) {
	c.mu.Lock()
	defer func() { c.end(opSubmitCommitment, err) }()
	if err = c.begin(tx, opSubmitCommitment, &commitArgs{Eon: eon, Root: root}); err != nil {
		return
	}
	if tx.From != c.params.Hub {
		return fmt.Errorf("%w: %s", chainerrors.ErrPNotHub, tx.From.Hex())
	}
	if c.faulted() {
		return fmt.Errorf("%w: eon %d", chainerrors.ErrHChainHalted, c.faultEon)
	}
	if eon < uint64(len(c.eons)) && c.eons[eon].Status != types.EonOpen {
		return fmt.Errorf("%w: eon %d is %s", chainerrors.ErrPDuplicateCommitment, eon, c.eons[eon].Status)
	}
	if cur := c.params.EonAt(tx.Block); eon != cur {
		return fmt.Errorf("%w: eon %d submitted during eon %d", chainerrors.ErrPOutOfOrderEon, eon, cur)
	}
	if eon != c.lastFinalized+1 {
		return fmt.Errorf("%w: eon %d before eon %d finalized", chainerrors.ErrPOutOfOrderEon, eon, eon-1)
	}
	st := c.ensureEon(eon)
	st.Status = types.EonCommitting
	st.Root = root
	st.CommitBlock = tx.Block
	c.emit(types.Event{Kind: types.EventCommitmentPublished, Block: tx.Block, Eon: eon, Account: tx.From, Root: root})
	log.Info(log.ChainMonitoring, "commitment published", "eon", eon, "root", root.String_short(), "block", tx.Block)
	return nil
}

// OpenChallenge disputes tx.From's leaf in the root of eon. proof
// establishes its leaf in the root of eon-1.
func (c *Chain) OpenChallenge(tx types.TxContext, eon uint64, proof bimodal.BalanceProof) (ch challenge.Challenge, err error) {
	c.mu.Lock()
	defer func() { c.end(opOpenChallenge, err) }()
	if err = c.begin(tx, opOpenChallenge, &challengeArgs{Eon: eon, Proof: proof}); err != nil {
		return
	}
	if err = c.live(tx.From); err != nil {
		return
	}
	if eon == 0 || eon >= uint64(len(c.eons)) || c.eons[eon].Status != types.EonCommitting {
		err = fmt.Errorf("%w: eon %d has no root under dispute", chainerrors.ErrPChallengeWindowClosed, eon)
		return
	}
	if closeAt := c.params.ChallengeClose(eon); tx.Block >= closeAt {
		err = fmt.Errorf("%w: eon %d closed at block %d", chainerrors.ErrPChallengeWindowClosed, eon, closeAt)
		return
	}
	prev, err := proof.Verify(c.verifier, c.eons[eon-1].Root, tx.From)
	if err != nil {
		return
	}
	expect := challenge.Expectation{Baseline: prev}
	expect.Deposits.Set(c.deposits.Sum(tx.From, func(d deposit.Deposit) bool { return d.TargetEon == eon }))
	expect.Withdrawals.Set(c.withdrawals.Sum(tx.From, func(r withdrawal.Request) bool {
		return r.DebitEon == eon && r.Status != withdrawal.Recovered
	}))
	if ch, err = c.challenges.Open(tx.From, eon, tx.Block, c.params.ResponseBlocks, expect); err != nil {
		return
	}
	if ch, err = c.challenges.AwaitResponse(ch.ID); err != nil {
		return
	}
	c.anchor(tx.From, c.account(tx.From), eon-1, prev)
	c.emit(ch.Event(tx.Block, c.eons[eon].Root))
	return ch, nil
}

// RespondToChallenge evaluates the hub's answer to challenge id and returns
// the resulting status. A wrong answer upholds the challenge and halts the
// chain; that outcome is not an error.
func (c *Chain) RespondToChallenge(tx types.TxContext, id uint64, resp challenge.Response) (status challenge.Status, err error) {
	c.mu.Lock()
	defer func() { c.end(opRespondToChallenge, err) }()
	if err = c.begin(tx, opRespondToChallenge, &respondArgs{ID: id, Response: resp}); err != nil {
		return
	}
	if tx.From != c.params.Hub {
		err = fmt.Errorf("%w: %s", chainerrors.ErrPNotHub, tx.From.Hex())
		return
	}
	ch, err := c.challenges.Get(id)
	if err != nil {
		return
	}
	if !ch.Pending() {
		return ch.Status, fmt.Errorf("%w: challenge %d is %s", chainerrors.ErrPChallengeNotPending, id, ch.Status)
	}
	st := c.eons[ch.Eon]
	if ch, err = c.challenges.Respond(id, tx.Block, c.verifier, st.Root, &resp); err != nil {
		return
	}
	c.emit(ch.Event(tx.Block, st.Root))
	switch ch.Status {
	case challenge.Upheld:
		c.fault(ch.Eon, types.FaultChallengeUpheld, tx.Block)
	case challenge.Dismissed:
		c.account(ch.Account).answers[ch.Eon] = *ch.Answer
		c.settle(tx.Block)
	}
	return ch.Status, nil
}

// ClaimRecovery pays account its balance in the last finalized root after
// the hub faulted. proof, when given, anchors that balance first.
func (c *Chain) ClaimRecovery(tx types.TxContext, addr common.Address, proof *bimodal.BalanceProof) (rec recovery.Record, err error) {
	c.mu.Lock()
	defer func() { c.end(opClaimRecovery, err) }()
	if err = c.begin(tx, opClaimRecovery, &recoveryArgs{Account: addr, Proof: proof}); err != nil {
		return
	}
	if !c.faulted() {
		err = chainerrors.ErrPRecoveryUnavailable
		return
	}
	if c.recoveries.Recovered(addr) {
		err = fmt.Errorf("%w: %s", chainerrors.ErrPAlreadyRecovered, addr.Hex())
		return
	}
	cand, err := c.current(addr, proof)
	if err != nil {
		return
	}
	if rec, err = c.recoveries.Settle(c.recoveryClaim(addr, &cand), &c.custody, tx.Block); err != nil {
		return
	}
	a := c.account(addr)
	c.anchor(addr, a, cand.baselineEon, cand.baseline)
	a.exited = true
	c.custody.Sub(&c.custody, &rec.Payout)
	c.withdrawals.SettleByRecovery(addr, tx.Block)
	c.deposits.Merge(addr, ^uint64(0))
	c.emit(rec.Event(c.faultEon))
	return rec, nil
}

// SubmitBalanceProof anchors tx.From's baseline on the finalized root of eon.
func (c *Chain) SubmitBalanceProof(tx types.TxContext, eon uint64, proof bimodal.BalanceProof) (leaf types.Leaf, err error) {
	c.mu.Lock()
	defer func() { c.end(opSubmitBalanceProof, err) }()
	if err = c.begin(tx, opSubmitBalanceProof, &balanceProofArgs{Eon: eon, Proof: proof}); err != nil {
		return
	}
	if leaf, err = c.verifyAt(tx.From, eon, &proof); err != nil {
		return
	}
	c.anchor(tx.From, c.account(tx.From), eon, leaf)
	return leaf, nil
}

// Poke observes the deadlines up to tx.Block and nothing else.
func (c *Chain) Poke(tx types.TxContext) (err error) {
	c.mu.Lock()
	defer func() { c.end(opPoke, err) }()
	return c.begin(tx, opPoke, &pokeArgs{})
}
