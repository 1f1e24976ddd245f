package chainerrors

import (
	"errors"
	"strings"
)

// Kind classifies an error by who has to act on it.
type Kind uint8

const (
	KindUnknown Kind = iota
	InvalidInput
	InsufficientBalance
	ProtocolViolation
	HubFault
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case InsufficientBalance:
		return "InsufficientBalance"
	case ProtocolViolation:
		return "ProtocolViolation"
	case HubFault:
		return "HubFault"
	default:
		return "Unknown"
	}
}

// Invalid input (I) Errors
var (
	ErrINonPositiveAmount     = errors.New("I1|NonPositiveAmount: Amount must be greater than zero.")
	ErrIMalformedProof        = errors.New("I2|MalformedProof: Proof is structurally invalid.")
	ErrIProofMismatch         = errors.New("I3|ProofMismatch: Proof does not verify against the committed root.")
	ErrINonIncreasingSequence = errors.New("I4|NonIncreasingSequence: Account sequence number must strictly increase.")
	ErrINegativeBalance       = errors.New("I5|NegativeBalance: Active plus passive balance is negative.")
	ErrIBadSignature          = errors.New("I6|BadSignature: Update is not signed by the account owner.")
	ErrIDuplicateAccount      = errors.New("I7|DuplicateAccount: Account appears more than once in the tree.")
	ErrIUnknownWithdrawal     = errors.New("I8|UnknownWithdrawal: No withdrawal request with this id.")
	ErrIUnknownChallenge      = errors.New("I9|UnknownChallenge: No challenge with this id.")
	ErrIStaleBaseline         = errors.New("I10|StaleBaseline: Account balance is not anchored at the last finalized eon.")
	ErrIInvalidParams         = errors.New("I11|InvalidParams: Chain parameters violate the eon timing constraints.")
	ErrIUnknownEon            = errors.New("I12|UnknownEon: Eon has no commitment.")
)

// Balance (B) Errors
var (
	ErrBInsufficientBalance = errors.New("B1|InsufficientBalance: Amount exceeds the available balance.")
)

// Protocol (P) Errors
var (
	ErrPNotHub                  = errors.New("P1|NotHub: Only the hub may submit commitments and responses.")
	ErrPDuplicateCommitment     = errors.New("P2|DuplicateCommitment: A root for this eon was already submitted.")
	ErrPOutOfOrderEon           = errors.New("P3|OutOfOrderEon: Commitment is not for the current eon.")
	ErrPDuplicateChallenge      = errors.New("P4|DuplicateChallenge: A challenge for this account and eon is pending.")
	ErrPChallengeWindowClosed   = errors.New("P5|ChallengeWindowClosed: Eon is not open to challenges.")
	ErrPChallengeNotPending     = errors.New("P6|ChallengeNotPending: Challenge is not awaiting a response.")
	ErrPWithdrawalNotMature     = errors.New("P7|WithdrawalNotMature: Withdrawal deadline has not passed.")
	ErrPAlreadySettled          = errors.New("P8|AlreadySettled: Withdrawal was already settled.")
	ErrPAlreadyRecovered        = errors.New("P9|AlreadyRecovered: Account already claimed recovery.")
	ErrPBlockRegression         = errors.New("P10|BlockRegression: Block height went backwards.")
	ErrPRecoveryUnavailable     = errors.New("P11|RecoveryUnavailable: Recovery requires a faulted hub.")
	ErrPAccountExited           = errors.New("P12|AccountExited: Account left the commit-chain through recovery.")
	ErrPEonNotFinalized         = errors.New("P13|EonNotFinalized: Eon is not finalized.")
	ErrPInvalidStatusTransition = errors.New("P14|InvalidStatusTransition: Record cannot move to the requested status.")
	ErrPWithdrawalCovered       = errors.New("P15|WithdrawalCovered: Balance covers the withdrawal and the agreed spending.")
	ErrPDebitCommitted          = errors.New("P16|DebitCommitted: The root debiting the withdrawal is already committed.")
)

// Hub fault (H) Errors
var (
	ErrHChainHalted         = errors.New("H1|ChainHalted: Hub faulted; use recovery.")
	ErrHWithdrawalContested = errors.New("H2|WithdrawalContested: An upheld challenge covers the withdrawal period.")
)

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}

// KindOf maps an error, possibly wrapped, to its category by code prefix.
func KindOf(err error) Kind {
	for ; err != nil; err = errors.Unwrap(err) {
		code := GetErrorCode(err)
		if code == "" {
			continue
		}
		switch code[0] {
		case 'I':
			return InvalidInput
		case 'B':
			return InsufficientBalance
		case 'P':
			return ProtocolViolation
		case 'H':
			return HubFault
		}
	}
	return KindUnknown
}
