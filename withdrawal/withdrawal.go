package withdrawal

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/holiman/uint256"
)

type Status uint8

const (
	Pending Status = iota
	Confirmed
	Recovered
	// Slashed requests were cut to zero by the owner's own off-chain spending.
	Slashed
)

var statusNames = []string{"Pending", "Confirmed", "Recovered", "Slashed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown withdrawal status %q", name)
}

// Request is an on-chain withdrawal. DebitEon is the first eon whose root
// must exclude the amount; the request may be confirmed from DeadlineEon on.
type Request struct {
	ID          uint64         `json:"id"`
	Account     common.Address `json:"account"`
	Amount      uint256.Int    `json:"-"`
	Slashed     uint256.Int    `json:"-"`
	Eon         uint64         `json:"eon"`
	DebitEon    uint64         `json:"debit_eon"`
	DeadlineEon uint64         `json:"deadline_eon"`
	Block       uint64         `json:"block"`
	Status      Status         `json:"status"`
	SettleBlock uint64         `json:"settle_block,omitempty"`
}

type requestJSON struct {
	Amount  string `json:"amount"`
	Slashed string `json:"slashed,omitempty"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	type alias Request
	out := struct {
		alias
		requestJSON
	}{alias: alias(r), requestJSON: requestJSON{Amount: r.Amount.Dec()}}
	if !r.Slashed.IsZero() {
		out.requestJSON.Slashed = r.Slashed.Dec()
	}
	return json.Marshal(out)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	type alias Request
	var raw struct {
		alias
		requestJSON
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, err := types.ParseAmount(raw.requestJSON.Amount)
	if err != nil {
		return fmt.Errorf("withdrawal amount: %w", err)
	}
	*r = Request(raw.alias)
	r.Amount.Set(amount)
	if raw.requestJSON.Slashed != "" {
		slashed, err := types.ParseAmount(raw.requestJSON.Slashed)
		if err != nil {
			return fmt.Errorf("withdrawal slashed: %w", err)
		}
		r.Slashed.Set(slashed)
	}
	return nil
}

func (r Request) Settled() bool {
	return r.Status != Pending
}

// Book tracks every withdrawal request by id.
type Book struct {
	nextID   uint64
	requests map[uint64]*Request
}

func NewBook() *Book {
	return &Book{nextID: 1, requests: make(map[uint64]*Request)}
}

// Request reserves amount out of available. available is computed by the
// caller from the account's committed balance minus what is already reserved.
func (b *Book) Request(account common.Address, amount, available *uint256.Int, eon, delay, block uint64) (Request, error) {
	if amount == nil || amount.IsZero() {
		return Request{}, chainerrors.ErrINonPositiveAmount
	}
	if amount.Gt(available) {
		return Request{}, fmt.Errorf("%w: requested %s, available %s", chainerrors.ErrBInsufficientBalance, amount.Dec(), available.Dec())
	}
	r := &Request{
		ID:          b.nextID,
		Account:     account,
		Eon:         eon,
		DebitEon:    eon + 1,
		DeadlineEon: eon + delay,
		Block:       block,
	}
	r.Amount.Set(amount)
	b.requests[r.ID] = r
	b.nextID++
	log.Debug(log.WithdrawalMonitoring, "withdrawal requested", "id", r.ID, "account", account, "amount", amount.Dec(), "deadline", r.DeadlineEon)
	return *r, nil
}

// Get returns a copy of request id.
func (b *Book) Get(id uint64) (Request, error) {
	r, ok := b.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %d", chainerrors.ErrIUnknownWithdrawal, id)
	}
	return *r, nil
}

// CheckConfirm reports why id cannot be confirmed at eon, without changing it.
func (b *Book) CheckConfirm(id, eon uint64) (Request, error) {
	r, err := b.Get(id)
	if err != nil {
		return Request{}, err
	}
	if r.Settled() {
		return r, fmt.Errorf("%w: withdrawal %d is %s", chainerrors.ErrPAlreadySettled, id, r.Status)
	}
	if eon < r.DeadlineEon {
		return r, fmt.Errorf("%w: withdrawal %d matures in eon %d, now %d", chainerrors.ErrPWithdrawalNotMature, id, r.DeadlineEon, eon)
	}
	return r, nil
}

// Confirm settles id. It succeeds at most once.
func (b *Book) Confirm(id, eon, block uint64) (Request, error) {
	if _, err := b.CheckConfirm(id, eon); err != nil {
		return Request{}, err
	}
	r := b.requests[id]
	r.Status = Confirmed
	r.SettleBlock = block
	log.Debug(log.WithdrawalMonitoring, "withdrawal confirmed", "id", id, "account", r.Account, "amount", r.Amount.Dec())
	return *r, nil
}

// Slash takes up to cut off pending request id and returns what it took.
// A request cut to zero is settled as Slashed.
func (b *Book) Slash(id uint64, cut *uint256.Int, block uint64) (Request, error) {
	r, ok := b.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %d", chainerrors.ErrIUnknownWithdrawal, id)
	}
	if r.Settled() {
		return *r, fmt.Errorf("%w: withdrawal %d is %s", chainerrors.ErrPAlreadySettled, id, r.Status)
	}
	if cut == nil || cut.IsZero() {
		return *r, chainerrors.ErrINonPositiveAmount
	}
	taken := new(uint256.Int).Set(cut)
	if taken.Gt(&r.Amount) {
		taken.Set(&r.Amount)
	}
	r.Slashed.Add(&r.Slashed, taken)
	r.Amount.Sub(&r.Amount, taken)
	if r.Amount.IsZero() {
		r.Status = Slashed
		r.SettleBlock = block
	}
	log.Debug(log.WithdrawalMonitoring, "withdrawal slashed", "id", id, "account", r.Account, "slashed", r.Slashed.Dec(), "left", r.Amount.Dec())
	return *r, nil
}

// SettleByRecovery marks the account's pending requests as paid out through recovery.
func (b *Book) SettleByRecovery(account common.Address, block uint64) []Request {
	var out []Request
	for _, r := range b.sorted() {
		if r.Account == account && r.Status == Pending {
			r.Status = Recovered
			r.SettleBlock = block
			out = append(out, *r)
		}
	}
	return out
}

// ForAccount returns the account's requests in id order.
func (b *Book) ForAccount(account common.Address) []Request {
	var out []Request
	for _, r := range b.sorted() {
		if r.Account == account {
			out = append(out, *r)
		}
	}
	return out
}

// ForDebitEon returns the requests the root of eon must debit, in id order.
func (b *Book) ForDebitEon(eon uint64) []Request {
	var out []Request
	for _, r := range b.sorted() {
		if r.DebitEon == eon && r.Status != Recovered {
			out = append(out, *r)
		}
	}
	return out
}

// Sum totals the account's requests accepted by match.
func (b *Book) Sum(account common.Address, match func(Request) bool) *uint256.Int {
	total := new(uint256.Int)
	for _, r := range b.requests {
		if r.Account == account && match(*r) {
			total.Add(total, &r.Amount)
		}
	}
	return total
}

// Outstanding is the amount reserved against the account's balance at
// baselineEon: requests not yet reflected in that root, pending or confirmed.
func (b *Book) Outstanding(account common.Address, baselineEon uint64) *uint256.Int {
	return b.Sum(account, func(r Request) bool {
		return r.DebitEon > baselineEon && r.Status != Recovered
	})
}

func (b *Book) Len() int {
	return len(b.requests)
}

func (b *Book) sorted() []*Request {
	out := make([]*Request, 0, len(b.requests))
	for _, r := range b.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Event describes r for the event feed.
func (r Request) Event(kind types.EventKind, block uint64) types.Event {
	ev := types.Event{Kind: kind, Block: block, Eon: r.Eon, Account: r.Account, Ref: r.ID}
	ev.SetAmount(&r.Amount)
	return ev
}
