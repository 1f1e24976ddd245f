package challenge

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/holiman/uint256"
)

type Status uint8

const (
	Opened Status = iota
	HubResponding
	Dismissed
	Upheld
)

var statusNames = []string{"Opened", "HubResponding", "Dismissed", "Upheld"}

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
	return fmt.Errorf("unknown challenge status %q", name)
}

// Expectation is what the root of the disputed eon must show for the
// challenger, derived from its leaf in the previous root and the on-chain
// deposits and withdrawals that took effect in between.
type Expectation struct {
	Baseline    types.Leaf  `json:"baseline"`
	Deposits    uint256.Int `json:"-"`
	Withdrawals uint256.Int `json:"-"`
}

// ExpectedActive is Baseline.Active + Baseline.Passive + Deposits - Withdrawals.
func (e *Expectation) ExpectedActive() (*uint256.Int, error) {
	total, ok := e.Baseline.Total()
	if !ok {
		return nil, chainerrors.ErrINegativeBalance
	}
	sum, overflow := new(uint256.Int).AddOverflow(total, &e.Deposits)
	if overflow {
		return nil, fmt.Errorf("expected balance overflows")
	}
	active, ok := types.SubChecked(sum, &e.Withdrawals)
	if !ok {
		return nil, fmt.Errorf("%w: withdrawals %s exceed carried balance %s", chainerrors.ErrINegativeBalance, e.Withdrawals.Dec(), sum.Dec())
	}
	return active, nil
}

type expectationJSON struct {
	Baseline    types.Leaf `json:"baseline"`
	Deposits    string     `json:"deposits"`
	Withdrawals string     `json:"withdrawals"`
}

func (e Expectation) MarshalJSON() ([]byte, error) {
	return json.Marshal(expectationJSON{e.Baseline, e.Deposits.Dec(), e.Withdrawals.Dec()})
}

func (e *Expectation) UnmarshalJSON(data []byte) error {
	var raw expectationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	deposits, err := types.ParseAmount(raw.Deposits)
	if err != nil {
		return fmt.Errorf("expected deposits: %w", err)
	}
	withdrawals, err := types.ParseAmount(raw.Withdrawals)
	if err != nil {
		return fmt.Errorf("expected withdrawals: %w", err)
	}
	e.Baseline = raw.Baseline
	e.Deposits.Set(deposits)
	e.Withdrawals.Set(withdrawals)
	return nil
}

// Response is the hub's counter-proof: the challenger's leaf in the disputed
// root and, when the leaf moved off-chain, the owner's agreement.
type Response struct {
	Proof     bimodal.BalanceProof `json:"proof"`
	Agreement *bimodal.Agreement   `json:"agreement,omitempty" rlp:"nil"`
}

// Challenge is one dispute of an account's leaf in an eon's root.
type Challenge struct {
	ID           uint64         `json:"id"`
	Account      common.Address `json:"account"`
	Eon          uint64         `json:"eon"`
	OpenBlock    uint64         `json:"open_block"`
	Deadline     uint64         `json:"deadline"`
	Status       Status         `json:"status"`
	Expect       Expectation    `json:"expect"`
	Answer       *types.Leaf    `json:"answer,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	ResolveBlock uint64         `json:"resolve_block,omitempty"`
}

func (c *Challenge) Pending() bool {
	return c.Status == Opened || c.Status == HubResponding
}

// Expired reports whether the response deadline has passed. A response at
// the deadline block itself is too late.
func (c *Challenge) Expired(block uint64) bool {
	return c.Pending() && block >= c.Deadline
}

func (c *Challenge) transition(to Status, allowed ...Status) error {
	for _, from := range allowed {
		if c.Status == from {
			c.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: challenge %d %s -> %s", chainerrors.ErrPInvalidStatusTransition, c.ID, c.Status, to)
}

// AwaitResponse marks the hub as notified.
func (c *Challenge) AwaitResponse() error {
	return c.transition(HubResponding, Opened)
}

// Dismiss records a valid, timely counter-proof.
func (c *Challenge) Dismiss(block uint64, answer types.Leaf) error {
	if block >= c.Deadline {
		return fmt.Errorf("%w: challenge %d deadline %d passed at %d", chainerrors.ErrPChallengeNotPending, c.ID, c.Deadline, block)
	}
	if err := c.transition(Dismissed, HubResponding); err != nil {
		return err
	}
	c.Answer = &answer
	c.ResolveBlock = block
	return nil
}

// Uphold records that the hub failed to answer correctly.
func (c *Challenge) Uphold(block uint64, reason string) error {
	if err := c.transition(Upheld, Opened, HubResponding); err != nil {
		return err
	}
	c.Reason = reason
	c.ResolveBlock = block
	return nil
}

// Event describes c's current status for the event feed.
func (c *Challenge) Event(block uint64, root common.Hash) types.Event {
	kind := types.EventChallengeOpened
	switch c.Status {
	case Dismissed:
		kind = types.EventChallengeDismissed
	case Upheld:
		kind = types.EventChallengeUpheld
	}
	return types.Event{Kind: kind, Block: block, Eon: c.Eon, Account: c.Account, Root: root, Ref: c.ID, Detail: c.Reason}
}
