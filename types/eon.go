package types

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/commitchain/common"
)

// TxContext is what the host ledger tells every inbound call: who sent it
// and at which block it executes.
type TxContext struct {
	From  common.Address `json:"from"`
	Block uint64         `json:"block"`
}

type EonStatus uint8

const (
	EonOpen EonStatus = iota
	EonCommitting
	EonFinalized
	EonFaulted
)

var eonStatusNames = []string{"Open", "Committing", "Finalized", "Faulted"}

func (s EonStatus) String() string {
	if int(s) < len(eonStatusNames) {
		return eonStatusNames[s]
	}
	return fmt.Sprintf("EonStatus(%d)", s)
}

func (s EonStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *EonStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range eonStatusNames {
		if n == name {
			*s = EonStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown eon status %q", name)
}

// FaultReason explains why an eon was faulted.
type FaultReason string

const (
	FaultNone             FaultReason = ""
	FaultMissedCommitment FaultReason = "missed_commitment"
	FaultChallengeUpheld  FaultReason = "challenge_upheld"
)

// EonState is the on-chain view of one eon.
type EonState struct {
	Number      uint64      `json:"eon"`
	Status      EonStatus   `json:"status"`
	Root        common.Hash `json:"root"`
	CommitBlock uint64      `json:"commit_block,omitempty"`
	Fault       FaultReason `json:"fault,omitempty"`
	FaultBlock  uint64      `json:"fault_block,omitempty"`
}

func (s *EonState) HasRoot() bool {
	return s.Status != EonOpen && !(s.Status == EonFaulted && s.Fault == FaultMissedCommitment)
}
