/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is and the helpers below.

ERROR CATEGORIES:
  1. Validation - malformed or out-of-range input, account untouched
  2. Not found  - missing account or investment
  3. Conflict   - closed investment, concurrent save, replayed request
  4. Store      - persistence failures, fatal for the request

SEE ALSO:
  - engine.go: Returns validation/not-found/conflict errors
  - store.go: Returns store errors
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when an input cannot be parsed or is out of range.
	// The account is left unchanged.
	ErrValidation = errors.New("validation rejected")

	// ErrInsufficientBalance is returned when an investment exceeds the cash balance.
	// It is a validation rejection: errors.Is(err, ErrValidation) holds.
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrValidation)

	// ErrAccountNotFound is returned when the account does not exist, including
	// when it was deleted after the caller captured its identity.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvestmentNotFound is returned when an investment ID is not in the account.
	ErrInvestmentNotFound = errors.New("investment not found")

	// ErrInvestmentClosed is returned when editing or closing a closed investment.
	ErrInvestmentClosed = errors.New("investment already closed")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a request key was already committed.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrCorruptRecord is returned when a persisted account fails schema validation.
	ErrCorruptRecord = errors.New("corrupt account record")

	// ErrStoreFailure marks persistence errors that are not domain outcomes.
	ErrStoreFailure = errors.New("store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which input was rejected and why.
type ValidationError struct {
	Field  string
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Input, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is a rejected input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing account or investment.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInvestmentNotFound)
}

// IsConflict returns true if the request clashes with the current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvestmentClosed) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
