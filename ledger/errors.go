/*
errors.go - Error types for the ledger

SENTINELS (use with errors.Is):
  ErrDuplicateIdempotencyKey - the entry was already recorded; expected on replay
  ErrTransactionNotFound     - reversal target does not exist
  ErrAlreadyReversed         - a transaction can be reversed once
  ErrInvalidTransaction      - failed validation before reaching the store
  ErrCurrencyMismatch        - amount currency differs from the group's
  ErrInsufficientSavings     - a withdrawal larger than the member's savings
*/
package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrAlreadyReversed         = errors.New("transaction already reversed")
	ErrInvalidTransaction      = errors.New("invalid transaction")
	ErrCurrencyMismatch        = errors.New("currency mismatch")
	ErrInsufficientSavings     = errors.New("withdrawal exceeds savings")
)

// ValidationError explains which field of a transaction was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTransaction }

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInsufficientSavings) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsConflict returns true when the write was already applied.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) || errors.Is(err, ErrAlreadyReversed)
}
