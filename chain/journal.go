package chain

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/challenge"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/storage"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

const (
	opDeposit            = "deposit"
	opRequestWithdrawal  = "request_withdrawal"
	opConfirmWithdrawal  = "confirm_withdrawal"
	opSlashWithdrawal    = "slash_withdrawal"
	opSubmitCommitment   = "submit_commitment"
	opOpenChallenge      = "open_challenge"
	opRespondToChallenge = "respond_to_challenge"
	opClaimRecovery      = "claim_recovery"
	opSubmitBalanceProof = "submit_balance_proof"
	opPoke               = "poke"
)

type depositArgs struct {
	Amount *uint256.Int
}

type requestArgs struct {
	Amount *uint256.Int
	Proof  *bimodal.BalanceProof `rlp:"nil"`
}

type confirmArgs struct {
	ID uint64
}

type slashArgs struct {
	ID        uint64
	Proof     bimodal.BalanceProof
	Agreement bimodal.Agreement
}

type commitArgs struct {
	Eon  uint64
	Root common.Hash
}

type challengeArgs struct {
	Eon   uint64
	Proof bimodal.BalanceProof
}

type respondArgs struct {
	ID       uint64
	Response challenge.Response
}

type recoveryArgs struct {
	Account common.Address
	Proof   *bimodal.BalanceProof `rlp:"nil"`
}

type balanceProofArgs struct {
	Eon   uint64
	Proof bimodal.BalanceProof
}

type pokeArgs struct{}

func (c *Chain) record(tx types.TxContext, kind string, args interface{}) error {
	payload, err := rlp.EncodeToBytes(args)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	_, err = c.journal.Append(storage.Op{Kind: kind, From: tx.From, Block: tx.Block, Payload: payload})
	return err
}

// Restore rebuilds a chain by replaying every op in src. Calls that were
// rejected originally are rejected again; only a journal that cannot be
// decoded fails the restore. New calls are appended to src.
func Restore(params types.Params, src *storage.Journal, opts ...Option) (*Chain, error) {
	c, err := New(params, opts...)
	if err != nil {
		return nil, err
	}
	ops, err := src.Ops()
	if err != nil {
		return nil, err
	}
	c.journal = nil
	for _, op := range ops {
		if err := c.apply(op); err != nil {
			return nil, fmt.Errorf("replay op %d (%s): %w", op.Seq, op.Kind, err)
		}
	}
	c.journal = src
	log.Info(log.ChainMonitoring, "chain restored", "ops", len(ops), "block", c.lastBlock, "lastFinalized", c.lastFinalized, "events", len(c.events))
	return c, nil
}

// apply re-executes op, returning only decoding errors.
func (c *Chain) apply(op storage.Op) error {
	tx := types.TxContext{From: op.From, Block: op.Block}
	var callErr error
	switch op.Kind {
	case opDeposit:
		var a depositArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		_, callErr = c.Deposit(tx, a.Amount)
	case opRequestWithdrawal:
		var a requestArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		_, callErr = c.RequestWithdrawal(tx, a.Amount, a.Proof)
	case opConfirmWithdrawal:
		var a confirmArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		_, callErr = c.ConfirmWithdrawal(tx, a.ID)
	case opSlashWithdrawal:
		var a slashArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		_, callErr = c.SlashWithdrawal(tx, a.ID, a.Proof, a.Agreement)
	case opSubmitCommitment:
		var a commitArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		callErr = c.SubmitCommitment(tx, a.Eon, a.Root)
	case opOpenChallenge:
		var a challengeArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		_, callErr = c.OpenChallenge(tx, a.Eon, a.Proof)
	case opRespondToChallenge:
		var a respondArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		_, callErr = c.RespondToChallenge(tx, a.ID, a.Response)
	case opClaimRecovery:
		var a recoveryArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		_, callErr = c.ClaimRecovery(tx, a.Account, a.Proof)
	case opSubmitBalanceProof:
		var a balanceProofArgs
		if err := rlp.DecodeBytes(op.Payload, &a); err != nil {
			return err
		}
		_, callErr = c.SubmitBalanceProof(tx, a.Eon, a.Proof)
	case opPoke:
		callErr = c.Poke(tx)
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	if callErr != nil {
		log.Trace(log.ChainMonitoring, "replayed rejected call", "seq", op.Seq, "kind", op.Kind, "err", callErr)
	}
	return nil
}
