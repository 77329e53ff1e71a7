package distribution

import (
	"errors"
)

// Code is a stable identifier for a distribution failure.
type Code string

// Kind groups codes by how callers should react to them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindArithmetic Kind = "arithmetic"
	KindFunds      Kind = "funds"
	KindInternal   Kind = "internal"
)

// Error is a distribution failure with a stable code. Wrap with fmt.Errorf("%w: ...") for context.
type Error struct {
	Code    Code
	Message string
	kind    Kind
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, kind: kind}
}

var (
	ErrQuoteMintNotInPool          = newError(KindValidation, "QuoteMintNotInPool", "quote mint is not the expected asset of the pool")
	ErrPositionWouldAccrueBaseFees = newError(KindValidation, "PositionWouldAccrueBaseFees", "tick range would accrue fees in the base asset")
	ErrInvalidTickRange            = newError(KindValidation, "InvalidTickRange", "lower tick must be below upper tick")
	ErrTickOutOfBounds             = newError(KindValidation, "TickOutOfBounds", "tick outside the supported range")
	ErrInvalidFeeShareBps          = newError(KindValidation, "InvalidFeeShareBps", "investor fee share exceeds 10000 basis points")
	ErrInvalidY0Allocation         = newError(KindValidation, "InvalidY0Allocation", "total investor allocation must be positive")
	ErrInvalidInvestorCount        = newError(KindValidation, "InvalidInvestorCount", "too many investors in page")
	ErrInvalidPageParameters       = newError(KindValidation, "InvalidPageParameters", "invalid page parameters")
	ErrInvalidVestingData          = newError(KindValidation, "InvalidVestingData", "invalid vesting data")

	ErrTooEarlyForDistribution    = newError(KindState, "TooEarlyForDistribution", "distribution window has not elapsed")
	ErrDistributionNotComplete    = newError(KindState, "DistributionNotComplete", "previous distribution day is not complete")
	ErrPaginationStateMismatch    = newError(KindState, "PaginationStateMismatch", "pagination state mismatch")
	ErrPolicyAlreadyInitialized   = newError(KindState, "PolicyAlreadyInitialized", "policy already initialized")
	ErrPositionAlreadyInitialized = newError(KindState, "PositionAlreadyInitialized", "position already initialized")
	ErrVaultNotInitialized        = newError(KindState, "VaultNotInitialized", "vault is not initialized")

	ErrMathOverflow = newError(KindArithmetic, "MathOverflow", "arithmetic overflow")

	ErrInsufficientFeeBalance = newError(KindFunds, "InsufficientFeeBalance", "treasury balance cannot cover planned transfers")
)

// Store errors returned by Tx implementations.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
)

// CodeOf returns the code of the first distribution error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf classifies err. Errors without a distribution code are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}
