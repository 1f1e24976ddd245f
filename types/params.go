package types

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
)

const (
	HashTypeKeccak  = "keccak"
	HashTypeBlake2b = "blake2b"

	DefaultWithdrawalDelayEons = 2
)

// Params fixes the eon clock and dispute windows of one deployment.
//
// For eon e (e >= 1) starting at block s = GenesisBlock + (e-1)*BlocksPerEon:
//   - the root must be submitted in [s, s+SubmissionBlocks)
//   - challenges may be opened until s+SubmissionBlocks+ChallengeBlocks
//   - each challenge must be answered within ResponseBlocks of opening
type Params struct {
	Network             string         `json:"network,omitempty"`
	BlocksPerEon        uint64         `json:"blocks_per_eon"`
	GenesisBlock        uint64         `json:"genesis_block"`
	Hub                 common.Address `json:"hub"`
	SubmissionBlocks    uint64         `json:"submission_blocks"`
	ChallengeBlocks     uint64         `json:"challenge_blocks"`
	ResponseBlocks      uint64         `json:"response_blocks"`
	WithdrawalDelayEons uint64         `json:"withdrawal_delay_eons"`
	HashType            string         `json:"hash_type"`
}

// DefaultParams splits an eon into quarters: submission, two quarters of
// challenge window, and the response window.
func DefaultParams(blocksPerEon uint64, hub common.Address) Params {
	quarter := blocksPerEon / 4
	if quarter == 0 {
		quarter = 1
	}
	return Params{
		BlocksPerEon:        blocksPerEon,
		Hub:                 hub,
		SubmissionBlocks:    quarter,
		ChallengeBlocks:     2 * quarter,
		ResponseBlocks:      quarter,
		WithdrawalDelayEons: DefaultWithdrawalDelayEons,
		HashType:            HashTypeKeccak,
	}
}

func (p Params) Validate() error {
	switch {
	case p.BlocksPerEon == 0:
		return fmt.Errorf("%w: blocks per eon is zero", chainerrors.ErrIInvalidParams)
	case p.SubmissionBlocks == 0 || p.ChallengeBlocks == 0 || p.ResponseBlocks == 0:
		return fmt.Errorf("%w: every window needs at least one block", chainerrors.ErrIInvalidParams)
	case p.SubmissionBlocks+p.ChallengeBlocks+p.ResponseBlocks > p.BlocksPerEon:
		return fmt.Errorf("%w: submission %d + challenge %d + response %d exceeds eon length %d",
			chainerrors.ErrIInvalidParams, p.SubmissionBlocks, p.ChallengeBlocks, p.ResponseBlocks, p.BlocksPerEon)
	case p.WithdrawalDelayEons < 2:
		return fmt.Errorf("%w: withdrawal delay %d eons is shorter than a challenge cycle", chainerrors.ErrIInvalidParams, p.WithdrawalDelayEons)
	case p.Hub == common.Address{}:
		return fmt.Errorf("%w: hub address not set", chainerrors.ErrIInvalidParams)
	}
	switch p.HashType {
	case "", HashTypeKeccak, HashTypeBlake2b:
	default:
		return fmt.Errorf("%w: unknown hash type %q", chainerrors.ErrIInvalidParams, p.HashType)
	}
	return nil
}

// EonAt returns the eon containing block; blocks before genesis are eon 0.
func (p Params) EonAt(block uint64) uint64 {
	if block < p.GenesisBlock {
		return 0
	}
	return (block-p.GenesisBlock)/p.BlocksPerEon + 1
}

func (p Params) EonStart(eon uint64) uint64 {
	if eon == 0 {
		return 0
	}
	return p.GenesisBlock + (eon-1)*p.BlocksPerEon
}

// SubmissionDeadline is the first block at which a missing root for eon is a fault.
func (p Params) SubmissionDeadline(eon uint64) uint64 {
	return p.EonStart(eon) + p.SubmissionBlocks
}

// ChallengeClose is the first block at which no new challenge against eon is accepted.
func (p Params) ChallengeClose(eon uint64) uint64 {
	return p.SubmissionDeadline(eon) + p.ChallengeBlocks
}
