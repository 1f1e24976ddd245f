package bimodal

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/merkle"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/holiman/uint256"
)

type entry struct {
	leaf      types.Leaf
	debit     uint256.Int
	agreement *Agreement
}

// Ledger is the hub's working copy of the next eon's leaves. Deposits and
// withdrawals move active balances; signed agreements and credits move
// passive balances. Seal freezes the working set into that eon's tree.
type Ledger struct {
	mu     sync.RWMutex
	hasher merkle.Hasher

	eon     uint64
	working map[common.Address]*entry

	sealed     map[uint64]*Tree
	agreements map[uint64]map[common.Address]Agreement
}

// NewLedger starts an empty working set for eon.
func NewLedger(h merkle.Hasher, eon uint64) *Ledger {
	return &Ledger{
		hasher:     h,
		eon:        eon,
		working:    make(map[common.Address]*entry),
		sealed:     make(map[uint64]*Tree),
		agreements: make(map[uint64]map[common.Address]Agreement),
	}
}

// Eon is the eon the working set will be sealed as.
func (l *Ledger) Eon() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.eon
}

func (l *Ledger) get(addr common.Address) *entry {
	e, ok := l.working[addr]
	if !ok {
		e = &entry{leaf: types.EmptyLeaf(addr)}
		l.working[addr] = e
	}
	return e
}

// Leaf returns the working leaf of addr.
func (l *Ledger) Leaf(addr common.Address) types.Leaf {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.working[addr]; ok {
		return e.leaf
	}
	return types.EmptyLeaf(addr)
}

// Debit returns the cumulative amount addr sent off-chain in the working eon.
func (l *Ledger) Debit(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.working[addr]; ok {
		return new(uint256.Int).Set(&e.debit)
	}
	return new(uint256.Int)
}

// WorkingAgreement returns the latest agreement addr signed for the working eon.
func (l *Ledger) WorkingAgreement(addr common.Address) (Agreement, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.working[addr]; ok && e.agreement != nil {
		return *e.agreement, true
	}
	return Agreement{}, false
}

// Deposit merges an on-chain deposit into the active balance.
func (l *Ledger) Deposit(addr common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.get(addr)
	sum, overflow := new(uint256.Int).AddOverflow(&e.leaf.Active, amount)
	if overflow {
		return fmt.Errorf("deposit overflows active balance of %s", addr.Hex())
	}
	e.leaf.Active = *sum
	log.Debug(log.BimodalMonitoring, "deposit merged", "eon", l.eon, "account", addr, "amount", amount.Dec())
	return nil
}

// Withdraw debits an on-chain withdrawal from the active balance.
func (l *Ledger) Withdraw(addr common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.get(addr)
	active, ok := types.SubChecked(&e.leaf.Active, amount)
	if !ok {
		return fmt.Errorf("%w: withdraw %s from active %s", chainerrors.ErrBInsufficientBalance, amount.Dec(), e.leaf.Active.Dec())
	}
	next := e.leaf
	next.Active = *active
	if err := Validate(next); err != nil {
		return fmt.Errorf("%w: %v", chainerrors.ErrBInsufficientBalance, err)
	}
	e.leaf = next
	return nil
}

// Credit adds an incoming transfer to the receiver's passive balance.
func (l *Ledger) Credit(addr common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(addr, amount)
}

func (l *Ledger) credit(addr common.Address, amount *uint256.Int) error {
	e := l.get(addr)
	passive := new(uint256.Int).Add(&e.leaf.Passive, amount)
	if passive.Slt(&e.leaf.Passive) {
		return fmt.Errorf("credit overflows passive balance of %s", addr.Hex())
	}
	e.leaf.Passive = *passive
	return nil
}

type staged struct {
	leaf      types.Leaf
	debit     uint256.Int
	agreement Agreement
}

// ApplyUpdates applies owner agreements for the working eon. The whole batch
// is rejected if any agreement is for another eon, is badly signed, fails to
// strictly increase the account's sequence number, lowers its cumulative
// debit, or would make the leaf negative.
func (l *Ledger) ApplyUpdates(batch []Agreement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending, err := l.stage(batch)
	if err != nil {
		return err
	}
	l.commit(pending)
	return nil
}

func (l *Ledger) stage(batch []Agreement) (map[common.Address]*staged, error) {
	pending := make(map[common.Address]*staged)
	for i := range batch {
		a := batch[i]
		if a.Eon != l.eon {
			return nil, fmt.Errorf("%w: agreement %d is for eon %d, working eon is %d", chainerrors.ErrPOutOfOrderEon, i, a.Eon, l.eon)
		}
		if err := a.Verify(); err != nil {
			return nil, fmt.Errorf("agreement %d: %w", i, err)
		}
		cur, ok := pending[a.Account]
		if !ok {
			cur = &staged{leaf: types.EmptyLeaf(a.Account)}
			if e, found := l.working[a.Account]; found {
				cur.leaf = e.leaf
				cur.debit = e.debit
			}
		}
		if a.Seq <= cur.leaf.Seq {
			return nil, fmt.Errorf("%w: %s seq %d after %d", chainerrors.ErrINonIncreasingSequence, a.Account.Hex(), a.Seq, cur.leaf.Seq)
		}
		added, ok := types.SubChecked(&a.Debit, &cur.debit)
		if !ok {
			return nil, fmt.Errorf("%w: %s debit %s below %s", chainerrors.ErrINonIncreasingSequence, a.Account.Hex(), a.Debit.Dec(), cur.debit.Dec())
		}
		next := *cur
		next.leaf.Seq = a.Seq
		next.leaf.Passive.Sub(&cur.leaf.Passive, added)
		next.debit = a.Debit
		next.agreement = a
		if err := Validate(next.leaf); err != nil {
			return nil, fmt.Errorf("agreement %d: %w", i, err)
		}
		pending[a.Account] = &next
	}
	return pending, nil
}

func (l *Ledger) commit(pending map[common.Address]*staged) {
	for addr, s := range pending {
		e := l.get(addr)
		e.leaf = s.leaf
		e.debit = s.debit
		a := s.agreement
		e.agreement = &a
	}
}

// Transfer applies the sender's agreement and credits the receiver with the
// increase in the sender's debit, atomically.
func (l *Ledger) Transfer(a Agreement, to common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if to == a.Account {
		return nil, fmt.Errorf("%w: transfer to self", chainerrors.ErrIMalformedProof)
	}
	before := new(uint256.Int)
	if e, ok := l.working[a.Account]; ok {
		before.Set(&e.debit)
	}
	pending, err := l.stage([]Agreement{a})
	if err != nil {
		return nil, err
	}
	amount := new(uint256.Int).Sub(&a.Debit, before)
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: transfer of zero", chainerrors.ErrINonPositiveAmount)
	}
	if e, ok := l.working[to]; ok {
		if p := new(uint256.Int).Add(&e.leaf.Passive, amount); p.Slt(&e.leaf.Passive) {
			return nil, fmt.Errorf("credit overflows passive balance of %s", to.Hex())
		}
	}
	l.commit(pending)
	if err := l.credit(to, amount); err != nil {
		return nil, err
	}
	log.Debug(log.BimodalMonitoring, "transfer applied", "eon", l.eon, "from", a.Account, "to", to, "amount", amount.Dec(), "seq", a.Seq)
	return amount, nil
}

// Seal freezes the working set as the tree of the working eon, then starts
// the next eon's working set with passive balances promoted into active.
func (l *Ledger) Seal() (*Tree, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	leaves := make([]types.Leaf, 0, len(l.working))
	agreements := make(map[common.Address]Agreement)
	for addr, e := range l.working {
		if e.leaf.IsEmpty() {
			continue
		}
		leaves = append(leaves, e.leaf)
		if e.agreement != nil {
			agreements[addr] = *e.agreement
		}
	}
	tree, err := Build(l.hasher, leaves)
	if err != nil {
		return nil, err
	}
	next := make(map[common.Address]*entry, len(l.working))
	for _, leaf := range tree.leaves {
		total, _ := leaf.Total()
		promoted := types.Leaf{Address: leaf.Address, Active: *total, Seq: leaf.Seq}
		next[leaf.Address] = &entry{leaf: promoted}
	}
	l.sealed[l.eon] = tree
	l.agreements[l.eon] = agreements
	log.Info(log.BimodalMonitoring, "eon sealed", "eon", l.eon, "accounts", tree.Len(), "root", tree.Root())
	l.eon++
	l.working = next
	return tree, nil
}

// Sealed returns the tree sealed for eon.
func (l *Ledger) Sealed(eon uint64) (*Tree, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.sealed[eon]
	return t, ok
}

// AgreementFor returns the agreement backing addr's sealed leaf in eon.
func (l *Ledger) AgreementFor(eon uint64, addr common.Address) (Agreement, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.agreements[eon][addr]
	return a, ok
}

// Prune drops sealed trees older than eon.
func (l *Ledger) Prune(eon uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for e := range l.sealed {
		if e < eon {
			delete(l.sealed, e)
			delete(l.agreements, e)
		}
	}
}
