/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure names the rule that was violated ("invoice already paid",
  "amount must be positive") so an operator can diagnose it.

ERROR CATEGORIES:
  1. Client errors - InvalidAmount, InvalidState, InvalidContract
  2. Lookup errors - NotFound (contract, invoice)
  3. Conflicts     - ScheduleAlreadyGenerated, ConcurrentModification

USAGE:
  if errors.Is(err, billing.ErrInvalidState) {
      var se *billing.InvalidStateError
      errors.As(err, &se) // se.Reason explains which rule failed
  }

SEE ALSO:
  - lifecycle.go: produces InvalidStateError
  - engine.go: wraps store errors with operation context
  - api/handlers.go: maps these errors to HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive or out-of-bounds amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidState is returned when the invoice status forbids the operation.
	ErrInvalidState = errors.New("invalid invoice state")

	// ErrNotFound is the parent of every lookup failure.
	ErrNotFound = errors.New("not found")

	// ErrContractNotFound is returned when a referenced contract doesn't exist.
	ErrContractNotFound = fmt.Errorf("contract %w", ErrNotFound)

	// ErrInvoiceNotFound is returned when a referenced invoice doesn't exist.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", ErrNotFound)

	// ErrScheduleAlreadyGenerated is returned when a contract's invoices
	// were already created. Regenerating would duplicate installments.
	ErrScheduleAlreadyGenerated = errors.New("schedule already generated for contract")

	// ErrConcurrentModification is returned when the optimistic version check
	// on an invoice fails because another writer updated it first.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidContract is returned when contract terms are malformed.
	ErrInvalidContract = errors.New("invalid contract terms")

	// ErrDuplicateContract is returned when a contract ID is already taken.
	ErrDuplicateContract = errors.New("contract already exists")

	// ErrDuplicateInvoice is returned when an invoice ID is already taken.
	ErrDuplicateInvoice = errors.New("invoice already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError explains why an invoice refused an operation.
type InvalidStateError struct {
	InvoiceID InvoiceID
	Status    Status
	Operation string // "payment" or "credit note"
	Reason    string // e.g. "invoice already paid"
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot apply %s to invoice %s: %s (status %s)",
		e.Operation, e.InvoiceID, e.Reason, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// InvalidAmountError explains why an amount was rejected.
type InvalidAmountError struct {
	Amount Money
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// ContractError explains which contract term is malformed.
type ContractError struct {
	Field  string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("invalid contract terms: %s %s", e.Field, e.Reason)
}

func (e *ContractError) Unwrap() error {
	return ErrInvalidContract
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidContract)
}

// IsConflict returns true if the request clashes with the current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrScheduleAlreadyGenerated) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateContract) ||
		errors.Is(err, ErrDuplicateInvoice)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
