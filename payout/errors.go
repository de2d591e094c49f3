/*
errors.go - Error taxonomy for the payout engine

ERROR CATEGORIES:
  1. Not found     - ErrEmployeeNotFound, ErrAssignmentNotFound, ErrPaymentNotFound
  2. Validation    - *ValidationError (rejected before any storage access)
  3. Persistence   - *PersistenceError, ErrConcurrentModification (retryable)

PROPAGATION:
  Any failure inside Allocate rolls back the whole transaction: the payment
  history row, assignment flips and balance update are all-or-nothing.

  A rate that does not resolve is NOT an error; it yields a zero charge.

SEE ALSO:
  - allocator.go: wraps store failures in PersistenceError
  - api/handlers.go: maps these errors to HTTP status codes
*/
package payout

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEmployeeNotFound is returned when the target employee id does not resolve.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrAssignmentNotFound is returned by AssignmentLedger.ByID.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrPaymentNotFound is returned when a payment history row does not exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrValidation is the sentinel every *ValidationError unwraps to.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence is the sentinel every *PersistenceError unwraps to.
	ErrPersistence = errors.New("persistence failure")

	// ErrConcurrentModification is returned when the store detects a
	// serialization conflict. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrAlreadyPaid is returned by stores when asked to settle an
	// assignment that is no longer unpaid.
	ErrAlreadyPaid = errors.New("assignment already paid")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError carries every field problem found in a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// PersistenceError wraps a store failure that aborted a unit of work.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// persistenceErr wraps err unless it is already a domain error that
// callers classify on their own.
func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrPersistence)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrAssignmentNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
