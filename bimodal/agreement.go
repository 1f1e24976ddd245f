package bimodal

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

var agreementDomain = []byte("commitchain/agreement")

// Agreement is an owner's authorisation of its leaf for an eon: the new
// sequence number and the cumulative amount sent off-chain during the eon.
// The hub may debit passive balance only up to Debit.
type Agreement struct {
	Eon       uint64         `json:"eon"`
	Account   common.Address `json:"account"`
	Seq       uint64         `json:"seq"`
	Debit     uint256.Int    `json:"debit"`
	Signature hexutil.Bytes  `json:"signature"`
}

// AgreementDigest is the 32-byte message the owner signs.
func AgreementDigest(eon uint64, account common.Address, seq uint64, debit *uint256.Int) common.Hash {
	d := debit.Bytes32()
	return common.Keccak256(agreementDomain, common.Uint64ToBytes(eon), account.Bytes(), common.Uint64ToBytes(seq), d[:])
}

func (a *Agreement) Digest() common.Hash {
	return AgreementDigest(a.Eon, a.Account, a.Seq, &a.Debit)
}

// SignAgreement builds and signs an agreement with the owner's key.
func SignAgreement(key *ecdsa.PrivateKey, eon uint64, account common.Address, seq uint64, debit *uint256.Int) (Agreement, error) {
	a := Agreement{Eon: eon, Account: account, Seq: seq}
	a.Debit.Set(debit)
	_, sig, err := common.EthSignWithKey(key, a.Digest())
	if err != nil {
		return Agreement{}, err
	}
	a.Signature = sig
	return a, nil
}

// Verify checks the signature was made by the account owner.
func (a *Agreement) Verify() error {
	if err := common.VerifyEthSignature(a.Account, a.Digest(), a.Signature); err != nil {
		return fmt.Errorf("%w: %v", chainerrors.ErrIBadSignature, err)
	}
	return nil
}

type agreementJSON struct {
	Eon       uint64         `json:"eon"`
	Account   common.Address `json:"account"`
	Seq       uint64         `json:"seq"`
	Debit     string         `json:"debit"`
	Signature hexutil.Bytes  `json:"signature"`
}

func (a Agreement) MarshalJSON() ([]byte, error) {
	return json.Marshal(agreementJSON{Eon: a.Eon, Account: a.Account, Seq: a.Seq, Debit: a.Debit.Dec(), Signature: a.Signature})
}

func (a *Agreement) UnmarshalJSON(data []byte) error {
	var raw agreementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	debit, err := types.ParseAmount(raw.Debit)
	if err != nil {
		return fmt.Errorf("agreement debit: %w", err)
	}
	*a = Agreement{Eon: raw.Eon, Account: raw.Account, Seq: raw.Seq, Signature: raw.Signature}
	a.Debit.Set(debit)
	return nil
}
