package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/chain"
	"github.com/colorfulnotion/commitchain/challenge"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/storage"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/holiman/uint256"
)

// Operator is the hub. It follows the chain's events, keeps the working
// leaves of the next eon, seals and commits one root per eon and answers
// challenges against its roots.
type Operator struct {
	mu     sync.Mutex
	chain  *chain.Chain
	hub    common.Address
	ledger *bimodal.Ledger
	store  *storage.Journal
	cursor uint64
	halted bool
}

// New starts a hub for c from genesis. store, when not nil, keeps every
// sealed leaf set.
func New(c *chain.Chain, store *storage.Journal) *Operator {
	return &Operator{
		chain:  c,
		hub:    c.Params().Hub,
		ledger: bimodal.NewLedger(c.Verifier().Hasher(), 1),
		store:  store,
	}
}

func (o *Operator) tx(block uint64) types.TxContext {
	return types.TxContext{From: o.hub, Block: block}
}

// WorkingEon is the eon whose root the next off-chain updates belong to.
func (o *Operator) WorkingEon() uint64 {
	return o.ledger.Eon()
}

// Leaf returns addr's working leaf and cumulative debit; an owner signs the
// next agreement with Seq = leaf.Seq + 1 and Debit = debit + amount.
func (o *Operator) Leaf(addr common.Address) (types.Leaf, *uint256.Int) {
	return o.ledger.Leaf(addr), o.ledger.Debit(addr)
}

// Transfer applies the sender's agreement and credits to.
func (o *Operator) Transfer(a bimodal.Agreement, to common.Address) (*uint256.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.halted {
		return nil, fmt.Errorf("hub halted")
	}
	return o.ledger.Transfer(a, to)
}

// Proof returns addr's balance proof in the root of eon.
func (o *Operator) Proof(eon uint64, addr common.Address) (bimodal.BalanceProof, error) {
	tree, err := o.tree(eon)
	if err != nil {
		return bimodal.BalanceProof{}, err
	}
	return tree.Prove(addr)
}

// Sealed returns the leaves committed for eon, while the hub still holds them.
func (o *Operator) Sealed(eon uint64) ([]types.Leaf, bool) {
	tree, ok := o.ledger.Sealed(eon)
	if !ok {
		return nil, false
	}
	return tree.Leaves(), true
}

func (o *Operator) tree(eon uint64) (*bimodal.Tree, error) {
	if eon == 0 {
		return bimodal.Build(o.chain.Verifier().Hasher(), nil)
	}
	tree, ok := o.ledger.Sealed(eon)
	if !ok {
		return nil, fmt.Errorf("no sealed tree for eon %d", eon)
	}
	return tree, nil
}

// Step brings the hub up to block: it observes deadlines, applies new
// deposits and withdrawals, answers challenges and commits every eon that
// has started.
func (o *Operator) Step(block uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.halted {
		return nil
	}
	if err := o.chain.Poke(o.tx(block)); err != nil {
		return err
	}
	for _, ev := range o.chain.Events(o.cursor) {
		// an event made in eon k belongs to the root of eon k+1
		for o.ledger.Eon() <= ev.Eon && !o.halted {
			o.commit(block)
		}
		o.apply(ev, block)
		o.cursor = ev.ID
	}
	cur := o.chain.Params().EonAt(block)
	for o.ledger.Eon() <= cur && !o.halted {
		o.commit(block)
	}
	return nil
}

func (o *Operator) apply(ev types.Event, block uint64) {
	switch ev.Kind {
	case types.EventDepositRecorded:
		amount, err := types.ParseAmount(ev.Amount)
		if err == nil {
			err = o.ledger.Deposit(ev.Account, amount)
		}
		if err != nil {
			log.Error(log.OperatorMonitoring, "deposit not merged", "ref", ev.Ref, "err", err)
		}
	case types.EventWithdrawalRequested:
		amount, err := types.ParseAmount(ev.Amount)
		if err == nil {
			err = o.ledger.Withdraw(ev.Account, amount)
		}
		if err != nil {
			err = o.slash(ev, block)
		}
		if err != nil {
			log.Error(log.OperatorMonitoring, "withdrawal not debited", "ref", ev.Ref, "account", ev.Account, "err", err)
		}
	case types.EventChallengeOpened:
		o.respond(ev, block)
	case types.EventEonFinalized:
		o.ledger.Prune(ev.Eon)
	case types.EventEonFaulted:
		o.halted = true
		log.Warn(log.OperatorMonitoring, "chain halted, hub stops", "eon", ev.Eon, "reason", ev.Detail)
	}
}

// slash cuts a withdrawal the owner has already spent off-chain down to
// what its leaf still covers, then debits what is left.
func (o *Operator) slash(ev types.Event, block uint64) error {
	a, ok := o.ledger.WorkingAgreement(ev.Account)
	if !ok {
		return fmt.Errorf("no agreement from %s in eon %d", ev.Account.Hex(), o.ledger.Eon())
	}
	tree, err := o.tree(ev.Eon)
	if err != nil {
		return err
	}
	proof, err := tree.Prove(ev.Account)
	if err != nil {
		return err
	}
	r, err := o.chain.SlashWithdrawal(o.tx(block), ev.Ref, proof, a)
	if err != nil {
		return err
	}
	log.Info(log.OperatorMonitoring, "withdrawal slashed", "ref", ev.Ref, "account", ev.Account, "slashed", r.Slashed.Dec(), "left", r.Amount.Dec())
	if r.Amount.IsZero() {
		return nil
	}
	return o.ledger.Withdraw(ev.Account, &r.Amount)
}

// commit seals the working eon and publishes its root.
func (o *Operator) commit(block uint64) {
	eon := o.ledger.Eon()
	tree, err := o.ledger.Seal()
	if err != nil {
		log.Error(log.OperatorMonitoring, "seal failed", "eon", eon, "err", err)
		o.halted = true
		return
	}
	if o.store != nil {
		if raw, err := json.Marshal(tree.Leaves()); err == nil {
			if err := o.store.PutSealed(eon, raw); err != nil {
				log.Warn(log.OperatorMonitoring, "sealed leaves not stored", "eon", eon, "err", err)
			}
		}
	}
	if err := o.chain.SubmitCommitment(o.tx(block), eon, tree.Root()); err != nil {
		log.Error(log.OperatorMonitoring, "commitment rejected", "eon", eon, "err", err)
		return
	}
	log.Info(log.OperatorMonitoring, "root committed", "eon", eon, "accounts", tree.Len(), "root", tree.Root().String_short())
	log.Debug(log.OperatorMonitoring, tree.Print(eon))
}

func (o *Operator) respond(ev types.Event, block uint64) {
	tree, err := o.tree(ev.Eon)
	if err != nil {
		log.Error(log.OperatorMonitoring, "cannot answer challenge", "id", ev.Ref, "err", err)
		return
	}
	proof, err := tree.Prove(ev.Account)
	if err != nil {
		log.Error(log.OperatorMonitoring, "cannot prove leaf", "id", ev.Ref, "err", err)
		return
	}
	resp := challenge.Response{Proof: proof}
	if a, ok := o.ledger.AgreementFor(ev.Eon, ev.Account); ok {
		resp.Agreement = &a
	}
	status, err := o.chain.RespondToChallenge(o.tx(block), ev.Ref, resp)
	if err != nil {
		log.Error(log.OperatorMonitoring, "response rejected", "id", ev.Ref, "err", err)
		return
	}
	log.Info(log.OperatorMonitoring, "challenge answered", "id", ev.Ref, "account", ev.Account, "eon", ev.Eon, "status", status)
}

// Run steps the hub for every block received until ctx is done or blocks closes.
func (o *Operator) Run(ctx context.Context, blocks <-chan uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-blocks:
			if !ok {
				return
			}
			if err := o.Step(b); err != nil {
				log.Warn(log.OperatorMonitoring, "step", "block", b, "err", err)
			}
		}
	}
}

func (o *Operator) Halted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halted
}
