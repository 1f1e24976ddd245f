package chain

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/deposit"
	"github.com/colorfulnotion/commitchain/recovery"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/colorfulnotion/commitchain/withdrawal"
	"github.com/holiman/uint256"
)

// account is the chain's mirror of one user: the most recent leaf it has
// seen proven against a finalized root. Every account starts anchored on the
// empty genesis root.
type account struct {
	baseline    types.Leaf
	baselineEon uint64
	// leaves proven by dismissed challenges, adopted when their eon finalizes
	answers map[uint64]types.Leaf
	exited  bool
}

func (c *Chain) account(addr common.Address) *account {
	a, ok := c.accounts[addr]
	if !ok {
		a = &account{baseline: types.EmptyLeaf(addr), answers: make(map[uint64]types.Leaf)}
		c.accounts[addr] = a
	}
	return a
}

// anchor moves the baseline forward to leaf at eon. Deposits that leaf
// already includes stop being tracked.
func (c *Chain) anchor(addr common.Address, a *account, eon uint64, leaf types.Leaf) {
	if eon < a.baselineEon {
		return
	}
	a.baseline = leaf
	a.baselineEon = eon
	for e := range a.answers {
		if e <= eon {
			delete(a.answers, e)
		}
	}
	c.deposits.Merge(addr, eon)
}

// verifyAt checks proof for addr against the finalized root of eon, which
// must not be older than addr's baseline.
func (c *Chain) verifyAt(addr common.Address, eon uint64, proof *bimodal.BalanceProof) (types.Leaf, error) {
	if eon >= uint64(len(c.eons)) || c.eons[eon].Status != types.EonFinalized {
		return types.Leaf{}, fmt.Errorf("%w: %d", chainerrors.ErrPEonNotFinalized, eon)
	}
	if a, ok := c.accounts[addr]; ok && eon < a.baselineEon {
		return types.Leaf{}, fmt.Errorf("%w: eon %d is older than baseline eon %d", chainerrors.ErrIStaleBaseline, eon, a.baselineEon)
	}
	return proof.Verify(c.verifier, c.eons[eon].Root, addr)
}

// current returns a copy of addr's mirror anchored at the last finalized
// eon, built from proof when one is given. The caller adopts it with anchor
// once the call succeeds.
func (c *Chain) current(addr common.Address, proof *bimodal.BalanceProof) (account, error) {
	if proof != nil {
		leaf, err := c.verifyAt(addr, c.lastFinalized, proof)
		if err != nil {
			return account{}, err
		}
		return account{baseline: leaf, baselineEon: c.lastFinalized}, nil
	}
	a := account{baseline: types.EmptyLeaf(addr)}
	if existing, ok := c.accounts[addr]; ok {
		a = *existing
	}
	if a.baselineEon != c.lastFinalized {
		return account{}, fmt.Errorf("%w: baseline eon %d, last finalized %d", chainerrors.ErrIStaleBaseline, a.baselineEon, c.lastFinalized)
	}
	return a, nil
}

// available is what addr may still request for withdrawal:
// baseline total + deposits merged after the baseline up to the last
// finalized eon - withdrawals not yet debited in the baseline.
func (c *Chain) available(addr common.Address, a *account) (*uint256.Int, error) {
	total, ok := a.baseline.Total()
	if !ok {
		return nil, fmt.Errorf("%w: baseline of %s", chainerrors.ErrINegativeBalance, addr.Hex())
	}
	b, f := a.baselineEon, c.lastFinalized
	deps := c.deposits.Sum(addr, func(d deposit.Deposit) bool { return d.TargetEon > b && d.TargetEon <= f })
	sum, ok := types.Sum(total, deps)
	if !ok {
		return nil, fmt.Errorf("balance of %s overflows", addr.Hex())
	}
	if out, ok := types.SubChecked(sum, c.withdrawals.Outstanding(addr, b)); ok {
		return out, nil
	}
	return new(uint256.Int), nil
}

func (c *Chain) recoveryClaim(addr common.Address, a *account) *recovery.Claim {
	b := a.baselineEon
	return &recovery.Claim{
		Account:     addr,
		Baseline:    a.baseline,
		BaselineEon: b,
		Deposits:    c.deposits.Sum(addr, func(d deposit.Deposit) bool { return d.TargetEon > b }),
		Unpaid: c.withdrawals.Sum(addr, func(r withdrawal.Request) bool {
			return r.Status == withdrawal.Pending && r.DebitEon <= b
		}),
		Paid: c.withdrawals.Sum(addr, func(r withdrawal.Request) bool {
			return r.Status == withdrawal.Confirmed && r.DebitEon > b
		}),
	}
}

// AccountView is the chain's knowledge of one account.
type AccountView struct {
	Address     common.Address       `json:"address"`
	Baseline    types.Leaf           `json:"baseline"`
	BaselineEon uint64               `json:"baseline_eon"`
	Available   string               `json:"available,omitempty"`
	Deposits    []deposit.Deposit    `json:"deposits"`
	Withdrawals []withdrawal.Request `json:"withdrawals"`
	Exited      bool                 `json:"exited"`
	Recovery    *recovery.Record     `json:"recovery,omitempty"`
}

// Account reports addr's baseline and pending records. Available is set
// only while the baseline is at the last finalized eon.
func (c *Chain) Account(addr common.Address) AccountView {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := AccountView{
		Address:     addr,
		Baseline:    types.EmptyLeaf(addr),
		Deposits:    c.deposits.ForAccount(addr),
		Withdrawals: c.withdrawals.ForAccount(addr),
	}
	a, ok := c.accounts[addr]
	if ok {
		v.Baseline = a.baseline
		v.BaselineEon = a.baselineEon
		v.Exited = a.exited
	}
	if v.BaselineEon == c.lastFinalized && !v.Exited {
		if avail, err := c.available(addr, &account{baseline: v.Baseline, baselineEon: v.BaselineEon}); err == nil {
			v.Available = avail.Dec()
		}
	}
	if rec, ok := c.recoveries.Get(addr); ok {
		v.Recovery = &rec
	}
	return v
}
