package recovery

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/holiman/uint256"
)

// Claim is the on-chain evidence for one account's exit after a fault.
// Baseline is the account's leaf in the last finalized root (BaselineEon).
type Claim struct {
	Account     common.Address
	Baseline    types.Leaf
	BaselineEon uint64
	// Deposits recorded on-chain but not merged into the baseline.
	Deposits *uint256.Int
	// Pending withdrawals already debited in the baseline, to be paid here.
	Unpaid *uint256.Int
	// Confirmed withdrawals paid out but not yet debited in the baseline.
	Paid *uint256.Int
}

// Entitlement is Baseline.Active + Baseline.Passive + Deposits + Unpaid - Paid.
func (c *Claim) Entitlement() (*uint256.Int, error) {
	total, ok := c.Baseline.Total()
	if !ok {
		return nil, fmt.Errorf("%w: baseline of %s", chainerrors.ErrINegativeBalance, c.Account.Hex())
	}
	sum, ok := types.Sum(total, orZero(c.Deposits), orZero(c.Unpaid))
	if !ok {
		return nil, fmt.Errorf("entitlement of %s overflows", c.Account.Hex())
	}
	out, ok := types.SubChecked(sum, orZero(c.Paid))
	if !ok {
		// paid out more than the last valid state shows; nothing is left
		return new(uint256.Int), nil
	}
	return out, nil
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

// Record is a settled recovery.
type Record struct {
	Account      common.Address `json:"account"`
	LastValidEon uint64         `json:"last_valid_eon"`
	Entitled     uint256.Int    `json:"-"`
	Payout       uint256.Int    `json:"-"`
	Block        uint64         `json:"block"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal(struct {
		alias
		Entitled string `json:"entitled"`
		Payout   string `json:"payout"`
	}{alias(r), r.Entitled.Dec(), r.Payout.Dec()})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	var raw struct {
		alias
		Entitled string `json:"entitled"`
		Payout   string `json:"payout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	entitled, err := types.ParseAmount(raw.Entitled)
	if err != nil {
		return fmt.Errorf("recovery entitled: %w", err)
	}
	payout, err := types.ParseAmount(raw.Payout)
	if err != nil {
		return fmt.Errorf("recovery payout: %w", err)
	}
	*r = Record(raw.alias)
	r.Entitled.Set(entitled)
	r.Payout.Set(payout)
	return nil
}

// Event describes r for the event feed.
func (r Record) Event(eon uint64) types.Event {
	ev := types.Event{Kind: types.EventRecoveryClaimed, Block: r.Block, Eon: eon, Account: r.Account, Ref: r.LastValidEon}
	ev.SetAmount(&r.Payout)
	return ev
}

// Registry remembers which accounts have exited. Each account recovers once.
type Registry struct {
	records map[common.Address]*Record
	paid    uint256.Int
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[common.Address]*Record)}
}

// Settle pays out c's entitlement, capped by what the chain still holds.
func (r *Registry) Settle(c *Claim, custody *uint256.Int, block uint64) (Record, error) {
	if _, ok := r.records[c.Account]; ok {
		return Record{}, fmt.Errorf("%w: %s", chainerrors.ErrPAlreadyRecovered, c.Account.Hex())
	}
	entitled, err := c.Entitlement()
	if err != nil {
		return Record{}, err
	}
	rec := &Record{Account: c.Account, LastValidEon: c.BaselineEon, Block: block}
	rec.Entitled.Set(entitled)
	rec.Payout.Set(entitled)
	if custody != nil && rec.Payout.Gt(custody) {
		log.Warn(log.RecoveryMonitoring, "recovery short of custody", "account", c.Account, "entitled", entitled.Dec(), "custody", custody.Dec())
		rec.Payout.Set(custody)
	}
	r.records[c.Account] = rec
	r.paid.Add(&r.paid, &rec.Payout)
	log.Info(log.RecoveryMonitoring, "recovery settled", "account", c.Account, "eon", c.BaselineEon, "payout", rec.Payout.Dec())
	return *rec, nil
}

func (r *Registry) Get(account common.Address) (Record, bool) {
	rec, ok := r.records[account]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (r *Registry) Recovered(account common.Address) bool {
	_, ok := r.records[account]
	return ok
}

// TotalPaid is the sum of all payouts so far.
func (r *Registry) TotalPaid() *uint256.Int {
	return new(uint256.Int).Set(&r.paid)
}

func (r *Registry) Len() int {
	return len(r.records)
}
