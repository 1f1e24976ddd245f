package challenge

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/merkle"
	"github.com/colorfulnotion/commitchain/types"
)

// Evaluate decides whether resp answers a challenge on account's leaf in
// eon's root. It returns the proven leaf when the answer is consistent with
// the expectation, and the reason otherwise.
//
// The proven leaf N must:
//   - verify against root for the challenged account
//   - carry Active equal to the expected active balance
//   - not lower the sequence number of the baseline leaf
//   - have a non-negative total
//
// When N moves the leaf off-chain (higher seq or negative passive) the
// owner's agreement for eon must back it, with N.Passive + Debit >= 0.
func Evaluate(v merkle.Verifier, root common.Hash, account common.Address, eon uint64, expect *Expectation, resp *Response) (types.Leaf, error) {
	leaf, err := resp.Proof.Verify(v, root, account)
	if err != nil {
		return types.Leaf{}, err
	}
	expected, err := expect.ExpectedActive()
	if err != nil {
		return types.Leaf{}, err
	}
	if !leaf.Active.Eq(expected) {
		return types.Leaf{}, fmt.Errorf("%w: active %s, carried forward %s", chainerrors.ErrIProofMismatch, leaf.Active.Dec(), expected.Dec())
	}
	base := &expect.Baseline
	if leaf.Seq < base.Seq {
		return types.Leaf{}, fmt.Errorf("%w: seq %d below baseline %d", chainerrors.ErrINonIncreasingSequence, leaf.Seq, base.Seq)
	}
	if _, ok := leaf.Total(); !ok {
		return types.Leaf{}, fmt.Errorf("%w: leaf total of %s", chainerrors.ErrINegativeBalance, account.Hex())
	}
	if leaf.Seq == base.Seq && leaf.Passive.Sign() >= 0 {
		return leaf, nil
	}

	a := resp.Agreement
	if a == nil {
		return types.Leaf{}, fmt.Errorf("%w: leaf seq %d passive %s needs the owner's agreement", chainerrors.ErrIBadSignature, leaf.Seq, types.FormatSigned(&leaf.Passive))
	}
	switch {
	case a.Account != account:
		return types.Leaf{}, fmt.Errorf("%w: agreement is for %s", chainerrors.ErrIProofMismatch, a.Account.Hex())
	case a.Eon != eon:
		return types.Leaf{}, fmt.Errorf("%w: agreement is for eon %d, challenged eon %d", chainerrors.ErrIProofMismatch, a.Eon, eon)
	case a.Seq != leaf.Seq:
		return types.Leaf{}, fmt.Errorf("%w: agreement seq %d, leaf seq %d", chainerrors.ErrIProofMismatch, a.Seq, leaf.Seq)
	}
	if err := a.Verify(); err != nil {
		return types.Leaf{}, err
	}
	if _, ok := types.AddSigned(&a.Debit, &leaf.Passive); !ok {
		return types.Leaf{}, fmt.Errorf("%w: passive %s exceeds agreed debit %s", chainerrors.ErrINegativeBalance, types.FormatSigned(&leaf.Passive), a.Debit.Dec())
	}
	return leaf, nil
}
