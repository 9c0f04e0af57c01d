package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrInstrumentNotFound    = errors.New("instrument not found")
	ErrInvalidCredential     = errors.New("invalid credentials")
	ErrCredentialLocked      = errors.New("too many failed attempts, try again later")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrRefundTargetNotFound  = errors.New("refund target transaction not found")
	ErrRefundExceedsOriginal = errors.New("refund exceeds original transaction amount")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrAccountExists         = errors.New("account already exists")

	// ErrStoreConflict is transient: the whole authorization may be retried with fresh reads.
	ErrStoreConflict = errors.New("store conflict")
	// ErrStoreUnavailable is surfaced as a server error and never retried by the engine.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError describes malformed input the caller can correct.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Decline reason codes recorded on ledger entries and returned to callers.
const (
	ReasonInsufficientFunds     = "insufficient_funds"
	ReasonInvalidCredential     = "invalid_credential"
	ReasonCredentialLocked      = "credential_locked"
	ReasonRefundTargetNotFound  = "refund_target_not_found"
	ReasonRefundExceedsOriginal = "refund_exceeds_original"
	ReasonInstrumentNotFound    = "instrument_not_found"
	ReasonInvalidRequest        = "invalid_request"
)

// DeclineReason maps a business-rule error to its reason code.
// It returns "" for errors that are not declines.
func DeclineReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrInvalidCredential):
		return ReasonInvalidCredential
	case errors.Is(err, ErrCredentialLocked):
		return ReasonCredentialLocked
	case errors.Is(err, ErrRefundTargetNotFound):
		return ReasonRefundTargetNotFound
	case errors.Is(err, ErrRefundExceedsOriginal):
		return ReasonRefundExceedsOriginal
	case errors.Is(err, ErrInstrumentNotFound):
		return ReasonInstrumentNotFound
	case errors.Is(err, ErrValidation):
		return ReasonInvalidRequest
	}
	return ""
}
