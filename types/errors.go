package types

import (
	"errors"
	"fmt"
)

// Kind : classification of a bridge failure. Callers decide on retry or surfacing by kind, not by code.
type Kind int

const (
	KindUnknown Kind = iota
	KindHeaderRejected
	KindProofRejected
	KindCollateralViolation
	KindRequestLifecycleViolation
	KindVaultStateViolation
	KindOracleUnavailable
	KindInvariantBreach
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindHeaderRejected:
		return "HeaderRejected"
	case KindProofRejected:
		return "ProofRejected"
	case KindCollateralViolation:
		return "CollateralViolation"
	case KindRequestLifecycleViolation:
		return "RequestLifecycleViolation"
	case KindVaultStateViolation:
		return "VaultStateViolation"
	case KindOracleUnavailable:
		return "OracleUnavailable"
	case KindInvariantBreach:
		return "InvariantBreach"
	case KindBadRequest:
		return "BadRequest"
	}
	return "Unknown"
}

// Error : a typed bridge failure. Sentinels are compared by identity, so wrap them with %w to add context.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

func newError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// KindOf : returns the kind of the first typed error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf : returns the code of the first typed error in err's chain, or the empty string
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Wrap : attaches formatted context to a sentinel
func Wrap(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// header relay
var (
	ErrInvalidProofOfWork      = newError(KindHeaderRejected, "InvalidProofOfWork")
	ErrUnknownParent           = newError(KindHeaderRejected, "UnknownParent")
	ErrDuplicateHeader         = newError(KindHeaderRejected, "DuplicateHeader")
	ErrTimestampInvalid        = newError(KindHeaderRejected, "TimestampInvalid")
	ErrMalformedHeader         = newError(KindHeaderRejected, "MalformedHeader")
	ErrHeightMismatch          = newError(KindHeaderRejected, "HeightMismatch")
	ErrRetargetWindowMissing   = newError(KindHeaderRejected, "RetargetWindowMissing")
	ErrRelayNotInitialized     = newError(KindHeaderRejected, "RelayNotInitialized")
	ErrRelayAlreadyInitialized = newError(KindHeaderRejected, "RelayAlreadyInitialized")
)

// proofs
var (
	ErrHeaderUnknown          = newError(KindProofRejected, "HeaderUnknown")
	ErrBlockNotStable         = newError(KindProofRejected, "BlockNotStable")
	ErrMerkleMismatch         = newError(KindProofRejected, "MerkleMismatch")
	ErrNoMatchingOutput       = newError(KindProofRejected, "NoMatchingOutput")
	ErrPaymentTooLow          = newError(KindProofRejected, "PaymentTooLow")
	ErrMalformedTransaction   = newError(KindProofRejected, "MalformedTransaction")
	ErrTransactionAlreadyUsed = newError(KindProofRejected, "TransactionAlreadyUsed")
	ErrInvalidBitcoinAddress  = newError(KindProofRejected, "InvalidBitcoinAddress")
)

// collateral
var (
	ErrInsufficientCollateral      = newError(KindCollateralViolation, "InsufficientCollateral")
	ErrExceedsCapacity             = newError(KindCollateralViolation, "ExceedsCapacity")
	ErrVaultCapacityExceeded       = newError(KindCollateralViolation, "VaultCapacityExceeded")
	ErrArithmeticOverflow          = newError(KindCollateralViolation, "ArithmeticOverflow")
	ErrArithmeticUnderflow         = newError(KindCollateralViolation, "ArithmeticUnderflow")
	ErrInsufficientTokensCommitted = newError(KindCollateralViolation, "InsufficientTokensCommitted")
	ErrInsufficientFunds           = newError(KindCollateralViolation, "InsufficientFunds")
	ErrAmountBelowDust             = newError(KindCollateralViolation, "AmountBelowDust")
)

// request lifecycle
var (
	ErrRequestNotFound       = newError(KindRequestLifecycleViolation, "RequestNotFound")
	ErrCommitPeriodExpired   = newError(KindRequestLifecycleViolation, "CommitPeriodExpired")
	ErrPeriodNotExpired      = newError(KindRequestLifecycleViolation, "PeriodNotExpired")
	ErrRequestCompleted      = newError(KindRequestLifecycleViolation, "RequestCompleted")
	ErrRequestCancelled      = newError(KindRequestLifecycleViolation, "RequestCancelled")
	ErrRefundAlreadyExecuted = newError(KindRequestLifecycleViolation, "RefundAlreadyExecuted")
	ErrDuplicateRequest      = newError(KindRequestLifecycleViolation, "DuplicateRequest")
	ErrUnauthorizedCaller    = newError(KindRequestLifecycleViolation, "UnauthorizedCaller")
)

// vault state
var (
	ErrVaultNotFound          = newError(KindVaultStateViolation, "VaultNotFound")
	ErrVaultAlreadyRegistered = newError(KindVaultStateViolation, "VaultAlreadyRegistered")
	ErrVaultNotActive         = newError(KindVaultStateViolation, "VaultNotActive")
	ErrVaultNotLiquidatable   = newError(KindVaultStateViolation, "VaultNotLiquidatable")
	ErrVaultNotLiquidated     = newError(KindVaultStateViolation, "VaultNotLiquidated")
)

var (
	ErrOracleUnavailable = newError(KindOracleUnavailable, "OracleUnavailable")
	ErrInvariantBreach   = newError(KindInvariantBreach, "InvariantBreach")
	ErrMalformedTx       = newError(KindBadRequest, "MalformedTx")
	ErrInvalidSignature  = newError(KindBadRequest, "InvalidSignature")
	ErrUnknownTxType     = newError(KindBadRequest, "UnknownTxType")
	ErrBadNonce          = newError(KindBadRequest, "BadNonce")
)
