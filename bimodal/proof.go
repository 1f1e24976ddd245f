package bimodal

import (
	"fmt"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/merkle"
	"github.com/colorfulnotion/commitchain/types"
)

type InclusionProof struct {
	Leaf types.Leaf   `json:"leaf"`
	Path merkle.Proof `json:"path"`
}

// BalanceProof establishes an account's leaf in a committed root: either the
// leaf itself, or its absence (an empty leaf). Exactly one part is set.
type BalanceProof struct {
	Inclusion *InclusionProof        `json:"inclusion,omitempty" rlp:"nil"`
	Exclusion *merkle.ExclusionProof `json:"exclusion,omitempty" rlp:"nil"`
}

// Verify checks the proof for account against root and returns the proven leaf.
func (p BalanceProof) Verify(v merkle.Verifier, root common.Hash, account common.Address) (types.Leaf, error) {
	switch {
	case p.Inclusion != nil && p.Exclusion == nil:
		leaf := p.Inclusion.Leaf
		if leaf.Address != account {
			return types.Leaf{}, fmt.Errorf("%w: proof is for %s, not %s", chainerrors.ErrIProofMismatch, leaf.Address.Hex(), account.Hex())
		}
		if err := Validate(leaf); err != nil {
			return types.Leaf{}, err
		}
		if !v.VerifyInclusion(root, EncodeLeaf(leaf), p.Inclusion.Path) {
			return types.Leaf{}, fmt.Errorf("%w: inclusion of %s in %s", chainerrors.ErrIProofMismatch, account.Hex(), root.String_short())
		}
		return leaf, nil
	case p.Exclusion != nil && p.Inclusion == nil:
		if !v.VerifyExclusion(root, account.Bytes(), *p.Exclusion) {
			return types.Leaf{}, fmt.Errorf("%w: exclusion of %s from %s", chainerrors.ErrIProofMismatch, account.Hex(), root.String_short())
		}
		return types.EmptyLeaf(account), nil
	}
	return types.Leaf{}, fmt.Errorf("%w: balance proof needs exactly one of inclusion or exclusion", chainerrors.ErrIMalformedProof)
}
