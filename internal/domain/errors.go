package domain

import (
	"errors"
	"fmt"
)

type Code string

// Error is a settlement failure with a stable machine-readable code.
// The package-level values are sentinels; wrap them with Errorf to add detail.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrMalformedEvent           = &Error{Code: "malformed_event", Message: "malformed event"}
	ErrBadSignature             = &Error{Code: "bad_signature", Message: "bad signature"}
	ErrForbiddenSource          = &Error{Code: "forbidden_source", Message: "sender not in allowlist"}
	ErrEventNotSettled          = &Error{Code: "event_not_settled", Message: "event not settled"}
	ErrIdempotencyConflict      = &Error{Code: "idempotency_conflict", Message: "idempotency key reused with a different request"}
	ErrIdempotencyKeyRequired   = &Error{Code: "idempotency_key_required", Message: "missing Idempotency-Key"}
	ErrAmountOutOfRange         = &Error{Code: "amount_out_of_range", Message: "amount out of range"}
	ErrCeilingExceeded          = &Error{Code: "ceiling_exceeded", Message: "amount exceeds configured ceiling"}
	ErrInsufficientBalance      = &Error{Code: "insufficient_balance", Message: "insufficient balance"}
	ErrNotFound                 = &Error{Code: "not_found", Message: "not found"}
	ErrNotMintable              = &Error{Code: "not_mintable", Message: "transaction cannot be minted"}
	ErrInvalidTransition        = &Error{Code: "invalid_transition", Message: "invalid job transition"}
	ErrLedgerInvariantViolation = &Error{Code: "ledger_invariant_violation", Message: "ledger invariant violation"}
)

// Errorf wraps a sentinel with a formatted detail message.
func Errorf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of the first *Error in err's chain, or "" for
// infrastructure failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
