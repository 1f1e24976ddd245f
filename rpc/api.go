package rpc

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/chain"
	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/challenge"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/deposit"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/operator"
	"github.com/colorfulnotion/commitchain/recovery"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/colorfulnotion/commitchain/withdrawal"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

const Namespace = "commitchain"

// Backend is what the API serves: the chain, the hub running on it (may be
// nil) and the block clock stamping inbound calls.
type Backend struct {
	Chain    *chain.Chain
	Operator *operator.Operator
	Clock    *BlockClock
}

// API is registered under the commitchain namespace, so Deposit is
// reachable as commitchain_deposit. Amounts travel as decimal strings.
type API struct {
	b *Backend
}

func NewAPI(b *Backend) *API {
	return &API{b: b}
}

// callError carries the error kind as the JSON-RPC code and the short
// error code ("P5", ...) as data.
type callError struct {
	err error
}

func (e *callError) Error() string { return e.err.Error() }

func (e *callError) Unwrap() error { return e.err }

func (e *callError) ErrorCode() int {
	return -32000 - int(chainerrors.KindOf(e.err))
}

func (e *callError) ErrorData() interface{} {
	return chainerrors.GetErrorCode(e.err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &callError{err: err}
}

func (api *API) tx(from common.Address) types.TxContext {
	return types.TxContext{From: from, Block: api.b.Clock.Block()}
}

func (api *API) hub() (*operator.Operator, error) {
	if api.b.Operator == nil {
		return nil, fmt.Errorf("no hub attached to this node")
	}
	return api.b.Operator, nil
}

// ownHub refuses hub-side chain calls on a node that runs its own hub; only
// that hub may commit, answer or slash for it.
func (api *API) ownHub() error {
	if api.b.Operator != nil {
		return fmt.Errorf("hub calls are made by this node's own hub")
	}
	return nil
}

func amount(s string) (*uint256.Int, error) {
	v, err := types.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %v", s, err)
	}
	return v, nil
}

// ----------------- queries -----------------

func (api *API) Params() types.Params {
	return api.b.Chain.Params()
}

func (api *API) BlockNumber() uint64 {
	return api.b.Clock.Block()
}

func (api *API) CurrentEon() uint64 {
	return api.b.Chain.CurrentEon()
}

func (api *API) LastFinalized() uint64 {
	return api.b.Chain.LastFinalized()
}

func (api *API) Eon(eon uint64) (types.EonState, error) {
	st, err := api.b.Chain.Eon(eon)
	return st, wrap(err)
}

func (api *API) Account(addr common.Address) chain.AccountView {
	return api.b.Chain.Account(addr)
}

func (api *API) Custody() string {
	return api.b.Chain.Custody().Dec()
}

func (api *API) Events(since uint64) []types.Event {
	return api.b.Chain.Events(since)
}

func (api *API) Withdrawal(id uint64) (withdrawal.Request, error) {
	r, err := api.b.Chain.Withdrawal(id)
	return r, wrap(err)
}

func (api *API) Challenge(id uint64) (challenge.Challenge, error) {
	ch, err := api.b.Chain.Challenge(id)
	return ch, wrap(err)
}

// ----------------- inbound calls -----------------

func (api *API) Deposit(from common.Address, value string) (deposit.Deposit, error) {
	a, err := amount(value)
	if err != nil {
		return deposit.Deposit{}, err
	}
	d, err := api.b.Chain.Deposit(api.tx(from), a)
	return d, wrap(err)
}

func (api *API) RequestWithdrawal(from common.Address, value string, proof *bimodal.BalanceProof) (withdrawal.Request, error) {
	a, err := amount(value)
	if err != nil {
		return withdrawal.Request{}, err
	}
	r, err := api.b.Chain.RequestWithdrawal(api.tx(from), a, proof)
	return r, wrap(err)
}

func (api *API) ConfirmWithdrawal(from common.Address, id uint64) (withdrawal.Request, error) {
	r, err := api.b.Chain.ConfirmWithdrawal(api.tx(from), id)
	return r, wrap(err)
}

// SubmitCommitment, RespondToChallenge and SlashWithdrawal are the hub's
// side of the chain, for a node whose hub runs elsewhere. from is not
// authenticated beyond the hub address check, so a node exposing them is a
// devnet node.
func (api *API) SubmitCommitment(from common.Address, eon uint64, root common.Hash) error {
	if err := api.ownHub(); err != nil {
		return err
	}
	return wrap(api.b.Chain.SubmitCommitment(api.tx(from), eon, root))
}

func (api *API) OpenChallenge(from common.Address, eon uint64, proof bimodal.BalanceProof) (challenge.Challenge, error) {
	ch, err := api.b.Chain.OpenChallenge(api.tx(from), eon, proof)
	return ch, wrap(err)
}

func (api *API) RespondToChallenge(from common.Address, id uint64, resp challenge.Response) (string, error) {
	if err := api.ownHub(); err != nil {
		return "", err
	}
	status, err := api.b.Chain.RespondToChallenge(api.tx(from), id, resp)
	return status.String(), wrap(err)
}

func (api *API) SlashWithdrawal(from common.Address, id uint64, proof bimodal.BalanceProof, agreement bimodal.Agreement) (withdrawal.Request, error) {
	if err := api.ownHub(); err != nil {
		return withdrawal.Request{}, err
	}
	r, err := api.b.Chain.SlashWithdrawal(api.tx(from), id, proof, agreement)
	return r, wrap(err)
}

func (api *API) ClaimRecovery(from common.Address, account common.Address, proof *bimodal.BalanceProof) (recovery.Record, error) {
	rec, err := api.b.Chain.ClaimRecovery(api.tx(from), account, proof)
	return rec, wrap(err)
}

func (api *API) SubmitBalanceProof(from common.Address, eon uint64, proof bimodal.BalanceProof) (types.Leaf, error) {
	leaf, err := api.b.Chain.SubmitBalanceProof(api.tx(from), eon, proof)
	return leaf, wrap(err)
}

// ----------------- hub -----------------

// WorkingLeaf is what an owner needs to sign its next agreement.
type WorkingLeaf struct {
	Eon   uint64     `json:"eon"`
	Leaf  types.Leaf `json:"leaf"`
	Debit string     `json:"debit"`
}

func (api *API) WorkingLeaf(addr common.Address) (WorkingLeaf, error) {
	o, err := api.hub()
	if err != nil {
		return WorkingLeaf{}, err
	}
	leaf, debit := o.Leaf(addr)
	return WorkingLeaf{Eon: o.WorkingEon(), Leaf: leaf, Debit: debit.Dec()}, nil
}

func (api *API) Proof(eon uint64, addr common.Address) (bimodal.BalanceProof, error) {
	o, err := api.hub()
	if err != nil {
		return bimodal.BalanceProof{}, err
	}
	return o.Proof(eon, addr)
}

// Transfer hands a signed agreement to the hub and returns the amount moved.
func (api *API) Transfer(a bimodal.Agreement, to common.Address) (string, error) {
	o, err := api.hub()
	if err != nil {
		return "", err
	}
	moved, err := o.Transfer(a, to)
	if err != nil {
		return "", wrap(err)
	}
	return moved.Dec(), nil
}

// ----------------- subscriptions -----------------

// NewEvents streams chain events as commitchain_subscribe("newEvents").
func (api *API) NewEvents(ctx context.Context) (*gethrpc.Subscription, error) {
	notifier, supported := gethrpc.NotifierFromContext(ctx)
	if !supported {
		return nil, gethrpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	events := make(chan types.Event, 128)
	feedSub := api.b.Chain.SubscribeEvents(events)
	go func() {
		defer feedSub.Unsubscribe()
		for {
			select {
			case ev := <-events:
				if err := notifier.Notify(sub.ID, ev); err != nil {
					log.Debug(log.RPCMonitoring, "notify", "sub", sub.ID, "err", err)
				}
			case <-sub.Err():
				return
			case <-feedSub.Err():
				return
			}
		}
	}()
	return sub, nil
}
