package chain

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/commitchain/challenge"
	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/deposit"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/merkle"
	"github.com/colorfulnotion/commitchain/recovery"
	"github.com/colorfulnotion/commitchain/storage"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/colorfulnotion/commitchain/withdrawal"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Journal receives every call that passed the block-order check.
type Journal interface {
	Append(op storage.Op) (uint64, error)
}

type Option func(*Chain)

// WithRegisterer exports the chain's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Chain) { c.metrics = newMetrics(reg) }
}

// WithJournal records inbound calls so the chain can be rebuilt with Restore.
func WithJournal(j Journal) Option {
	return func(c *Chain) { c.journal = j }
}

// Chain is the on-chain side of the commit-chain: eon commitments, the
// dispute game, deposits, withdrawals and recovery. One mutex serialises
// every call; deadlines are observed lazily when a call arrives.
type Chain struct {
	mu       sync.Mutex
	params   types.Params
	verifier merkle.Verifier

	eons          []*types.EonState
	lastFinalized uint64
	faultEon      uint64
	lastBlock     uint64

	accounts    map[common.Address]*account
	deposits    *deposit.Queue
	withdrawals *withdrawal.Book
	challenges  *challenge.Book
	recoveries  *recovery.Registry
	custody     uint256.Int

	events  []types.Event
	outbox  []types.Event
	feed    event.Feed
	metrics *metrics
	journal Journal
}

func New(params types.Params, opts ...Option) (*Chain, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	h, err := merkle.NewHasher(merkle.HashType(params.HashType))
	if err != nil {
		return nil, err
	}
	c := &Chain{
		params:      params,
		verifier:    merkle.NewVerifier(h),
		eons:        []*types.EonState{{Number: 0, Status: types.EonFinalized, Root: merkle.EmptyRoot(h)}},
		accounts:    make(map[common.Address]*account),
		deposits:    deposit.NewQueue(),
		withdrawals: withdrawal.NewBook(),
		challenges:  challenge.NewBook(),
		recoveries:  recovery.NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = newMetrics(nil)
	}
	log.Info(log.ChainMonitoring, "commit-chain created", "network", params.Network, "hub", params.Hub,
		"blocksPerEon", params.BlocksPerEon, "genesis", params.GenesisBlock, "hash", h.Type())
	return c, nil
}

func (c *Chain) Params() types.Params {
	return c.params
}

func (c *Chain) Verifier() merkle.Verifier {
	return c.verifier
}

// begin runs with c.mu held. It rejects a regressing block, journals the
// call and observes every deadline up to tx.Block.
func (c *Chain) begin(tx types.TxContext, kind string, args interface{}) error {
	if tx.Block < c.lastBlock {
		return fmt.Errorf("%w: block %d after %d", chainerrors.ErrPBlockRegression, tx.Block, c.lastBlock)
	}
	if c.journal != nil {
		if err := c.record(tx, kind, args); err != nil {
			return err
		}
	}
	c.lastBlock = tx.Block
	c.settle(tx.Block)
	return nil
}

// end releases c.mu and delivers the events the call produced.
func (c *Chain) end(kind string, err error) {
	c.metrics.call(kind, err)
	c.metrics.observe(c)
	out := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	if err != nil {
		log.Debug(log.ChainMonitoring, "call rejected", "op", kind, "err", err)
	}
	for _, ev := range out {
		c.feed.Send(ev)
	}
}

func (c *Chain) emit(ev types.Event) {
	ev.ID = uint64(len(c.events)) + 1
	c.events = append(c.events, ev)
	c.outbox = append(c.outbox, ev)
	c.metrics.events.WithLabelValues(string(ev.Kind)).Inc()
	log.Trace(log.ChainMonitoring, "event", "ev", ev.String())
}

func (c *Chain) faulted() bool {
	return c.faultEon != 0
}

// ensureEon returns the state of eon e, creating Open states up to it.
func (c *Chain) ensureEon(e uint64) *types.EonState {
	for uint64(len(c.eons)) <= e {
		c.eons = append(c.eons, &types.EonState{Number: uint64(len(c.eons)), Status: types.EonOpen})
	}
	return c.eons[e]
}

func (c *Chain) rootOf(e uint64) (common.Hash, error) {
	if e >= uint64(len(c.eons)) || !c.eons[e].HasRoot() {
		return common.Hash{}, fmt.Errorf("%w: %d", chainerrors.ErrIUnknownEon, e)
	}
	return c.eons[e].Root, nil
}

// Queries

func (c *Chain) CurrentEon() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.EonAt(c.lastBlock)
}

func (c *Chain) LastBlock() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBlock
}

func (c *Chain) LastFinalized() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFinalized
}

// Faulted returns the faulted eon, if the hub has been found at fault.
func (c *Chain) Faulted() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faultEon, c.faulted()
}

// Eon returns the state of eon e as of the last observed block.
func (c *Chain) Eon(e uint64) (types.EonState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e < uint64(len(c.eons)) {
		return *c.eons[e], nil
	}
	if e <= c.params.EonAt(c.lastBlock) && !c.faulted() {
		return types.EonState{Number: e, Status: types.EonOpen}, nil
	}
	return types.EonState{}, fmt.Errorf("%w: %d", chainerrors.ErrIUnknownEon, e)
}

// Root returns the committed root of eon e.
func (c *Chain) Root(e uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rootOf(e)
}

func (c *Chain) Deposits(target uint64) []deposit.Deposit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deposits.ForEon(target)
}

func (c *Chain) Withdrawals(debitEon uint64) []withdrawal.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withdrawals.ForDebitEon(debitEon)
}

func (c *Chain) Withdrawal(id uint64) (withdrawal.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withdrawals.Get(id)
}

func (c *Chain) Challenge(id uint64) (challenge.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.challenges.Get(id)
}

func (c *Chain) Challenges(eon uint64) []challenge.Challenge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.challenges.ForEon(eon)
}

func (c *Chain) Recovery(addr common.Address) (recovery.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recoveries.Get(addr)
}

// Custody is the amount the chain holds: deposits minus payouts.
func (c *Chain) Custody() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(uint256.Int).Set(&c.custody)
}

// Events returns every event with an id above since, in order.
func (c *Chain) Events(since uint64) []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if since >= uint64(len(c.events)) {
		return nil
	}
	return append([]types.Event(nil), c.events[since:]...)
}

// SubscribeEvents delivers events to ch as calls complete.
func (c *Chain) SubscribeEvents(ch chan<- types.Event) event.Subscription {
	return c.feed.Subscribe(ch)
}
