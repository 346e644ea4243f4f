/*
errors.go - Centralized error taxonomy for the ledger core

PURPOSE:
  All error kinds in one place. Collaborator failures are wrapped into
  this taxonomy at the point they occur; nothing above the ledger ever
  sees a raw store or driver error.

ERROR KINDS:
  ErrSchemaInvalid     Malformed request shape. Not retried.
  ErrNotFound          Unknown account, product, or entry. Not retried.
  ErrInvalidAmountSign Action/amount mismatch. Caller error, not retried.
  ErrConflict          Concurrent-write race. Retried internally, bounded.
  ErrStoreUnavailable  Transient store failure. Surfaced wrapped.
  ErrNotImplemented    Operation rejected by design (ledger deletes).

USAGE:
  if errors.Is(err, ledger.ErrConflict) { ... }
  var nf *ledger.NotFoundError
  if errors.As(err, &nf) { ... nf.Kind, nf.Key ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/warp/kiosk-ledger/schema"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSchemaInvalid is returned when the request payload fails
	// structural validation.
	ErrSchemaInvalid = errors.New("schema invalid")

	// ErrNotFound is returned when a referenced account, product, or
	// entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmountSign is returned when the transaction amount does
	// not match the action (DEPOSIT must be positive, WITHDRAW negative,
	// BUY_PRODUCT needs a product key and no amount at all).
	ErrInvalidAmountSign = errors.New("amount does not match action")

	// ErrConflict is returned when a concurrent append moved the
	// account's latest entry between balance read and persist.
	ErrConflict = errors.New("concurrent ledger modification")

	// ErrStoreUnavailable wraps transient store I/O failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotImplemented is returned for operations the ledger rejects by
	// design, such as deleting entries.
	ErrNotImplemented = errors.New("not implemented")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SchemaError carries the structured violation list from the validator.
type SchemaError struct {
	Violations []schema.FieldError
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema invalid: %d violation(s)", len(e.Violations))
}

func (e *SchemaError) Unwrap() error { return ErrSchemaInvalid }

// NotFoundError identifies which referenced resource is missing.
type NotFoundError struct {
	Kind string // "account", "product", "entry"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AmountSignError explains an action/amount mismatch.
type AmountSignError struct {
	Action Action
	Reason string
}

func (e *AmountSignError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

func (e *AmountSignError) Unwrap() error { return ErrInvalidAmountSign }

// ConflictError is surfaced after conflict retries are exhausted.
type ConflictError struct {
	AccountID AccountID
	Attempts  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("account %s: append conflict after %d attempts", e.AccountID, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StoreError wraps an underlying store or collaborator failure.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return ErrStoreUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed when repeated
// from the balance read.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSchemaInvalid) ||
		errors.Is(err, ErrInvalidAmountSign) ||
		errors.Is(err, ErrNotFound)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// WrapStore keeps taxonomy errors intact and wraps anything else as a
// store failure so raw collaborator errors never escape the core.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &StoreError{Op: op, Cause: err}
}
