package deposit

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/holiman/uint256"
)

// Deposit is funds received on-chain but not yet reflected in a committed
// active balance. It merges into the leaf of TargetEon.
type Deposit struct {
	Seq       uint64         `json:"seq"`
	Account   common.Address `json:"account"`
	Amount    uint256.Int    `json:"-"`
	Eon       uint64         `json:"eon"`
	TargetEon uint64         `json:"target_eon"`
	Block     uint64         `json:"block"`
}

// Queue holds pending deposits in arrival order; Seq is the merge order.
type Queue struct {
	nextSeq uint64
	items   []Deposit
}

func NewQueue() *Queue {
	return &Queue{nextSeq: 1}
}

// Record queues amount for account. It never touches an active balance.
func (q *Queue) Record(account common.Address, amount *uint256.Int, eon uint64, block uint64) (Deposit, error) {
	if amount == nil || amount.IsZero() {
		return Deposit{}, chainerrors.ErrINonPositiveAmount
	}
	d := Deposit{
		Seq:       q.nextSeq,
		Account:   account,
		Eon:       eon,
		TargetEon: eon + 1,
		Block:     block,
	}
	d.Amount.Set(amount)
	q.nextSeq++
	q.items = append(q.items, d)
	log.Debug(log.DepositMonitoring, "deposit queued", "seq", d.Seq, "account", account, "amount", amount.Dec(), "target", d.TargetEon)
	return d, nil
}

// ForEon returns the deposits merging into target, in merge order.
func (q *Queue) ForEon(target uint64) []Deposit {
	var out []Deposit
	for _, d := range q.items {
		if d.TargetEon == target {
			out = append(out, d)
		}
	}
	return out
}

// ForAccount returns the account's unmerged deposits, in merge order.
func (q *Queue) ForAccount(account common.Address) []Deposit {
	var out []Deposit
	for _, d := range q.items {
		if d.Account == account {
			out = append(out, d)
		}
	}
	return out
}

// Sum totals the account's deposits accepted by match.
func (q *Queue) Sum(account common.Address, match func(Deposit) bool) *uint256.Int {
	total := new(uint256.Int)
	for _, d := range q.items {
		if d.Account == account && match(d) {
			total.Add(total, &d.Amount)
		}
	}
	return total
}

// Merge discards the account's deposits whose target is at or before eon;
// they are part of a committed balance from then on.
func (q *Queue) Merge(account common.Address, throughEon uint64) int {
	kept := q.items[:0]
	merged := 0
	for _, d := range q.items {
		if d.Account == account && d.TargetEon <= throughEon {
			merged++
			continue
		}
		kept = append(kept, d)
	}
	q.items = kept
	return merged
}

// Len is the number of unmerged deposits.
func (q *Queue) Len() int {
	return len(q.items)
}

// NextSeq is the sequence number the next deposit will get.
func (q *Queue) NextSeq() uint64 {
	return q.nextSeq
}

func (d Deposit) String() string {
	return fmt.Sprintf("deposit#%d %s %s eon %d->%d", d.Seq, d.Account.Hex(), d.Amount.Dec(), d.Eon, d.TargetEon)
}

func (d Deposit) MarshalJSON() ([]byte, error) {
	type alias Deposit
	return json.Marshal(struct {
		alias
		Amount string `json:"amount"`
	}{alias(d), d.Amount.Dec()})
}

func (d *Deposit) UnmarshalJSON(data []byte) error {
	type alias Deposit
	var raw struct {
		alias
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, err := types.ParseAmount(raw.Amount)
	if err != nil {
		return fmt.Errorf("deposit amount: %w", err)
	}
	*d = Deposit(raw.alias)
	d.Amount.Set(amount)
	return nil
}

// Event describes d for the event feed.
func (d Deposit) Event() types.Event {
	ev := types.Event{Kind: types.EventDepositRecorded, Block: d.Block, Eon: d.Eon, Account: d.Account, Ref: d.Seq}
	ev.SetAmount(&d.Amount)
	return ev
}
