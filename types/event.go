package types

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/common"
	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventDepositRecorded     EventKind = "DepositRecorded"
	EventWithdrawalRequested EventKind = "WithdrawalRequested"
	EventWithdrawalConfirmed EventKind = "WithdrawalConfirmed"
	EventWithdrawalSlashed   EventKind = "WithdrawalSlashed"
	EventCommitmentPublished EventKind = "CommitmentPublished"
	EventChallengeOpened     EventKind = "ChallengeOpened"
	EventChallengeDismissed  EventKind = "ChallengeDismissed"
	EventChallengeUpheld     EventKind = "ChallengeUpheld"
	EventEonFinalized        EventKind = "EonFinalized"
	EventEonFaulted          EventKind = "EonFaulted"
	EventRecoveryClaimed     EventKind = "RecoveryClaimed"
)

// Event is one observable occurrence on the commit-chain. IDs are assigned
// in emission order starting at 1.
type Event struct {
	ID      uint64         `json:"id"`
	Kind    EventKind      `json:"kind"`
	Block   uint64         `json:"block"`
	Eon     uint64         `json:"eon"`
	Account common.Address `json:"account"`
	Amount  string         `json:"amount,omitempty"`
	Root    common.Hash    `json:"root"`
	Ref     uint64         `json:"ref,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

func (e *Event) SetAmount(a *uint256.Int) {
	if a != nil {
		e.Amount = a.Dec()
	}
}

func (e Event) String() string {
	return fmt.Sprintf("#%d %s eon=%d block=%d account=%s amount=%s ref=%d %s",
		e.ID, e.Kind, e.Eon, e.Block, e.Account.Hex(), e.Amount, e.Ref, e.Detail)
}
