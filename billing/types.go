/*
Package billing is the lease billing engine.

PURPOSE:
  Derives a contract's invoice schedule, accrues late penalties as time
  passes, allocates incoming payments across principal and penalty, and
  reverses those effects when a credit note cancels an invoice. Everything
  else in the back office (client records, vehicles, documents) only reads
  what this package produces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Contract: the signed terms, plus the weeksPaid progress counter
  - Invoice: one billable installment (admin fee or one week of rent)
  - Payment: an immutable record of how an amount was applied
  - CreditNote: an immutable record of an invoice cancellation

DESIGN PRINCIPLES:
  1. Exactness: every amount is a Money (decimal), never a float
  2. Calendar days: every date is a Date anchored at 12:00 UTC
  3. Derived, not stored: penalty accrued and the overdue state are
     recomputed on demand from the due date and the injected Clock
  4. Atomicity: each engine operation is a single TxStore transaction

SEE ALSO:
  - schedule.go: contract -> invoices
  - penalty.go: accrued and outstanding penalty
  - allocation.go: the payment waterfall
  - creditnote.go: cancellation and contract reversal
  - engine.go: transactional orchestration over the stores
*/
package billing

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ContractID string
type ClientID string
type InvoiceID string
type PaymentID string
type CreditNoteID string

// =============================================================================
// CONTRACT
// =============================================================================

// Contract holds the billing terms of a signed lease.
type Contract struct {
	ID       ContractID
	ClientID ClientID
	// Number is the human-facing contract sequence, used to number invoices.
	Number string

	SignedOn    Date
	PeriodStart Date // always SignedOn + 1 day

	WeeklyRent       Money
	AdminFee         Money
	TermWeeks        int
	DailyPenaltyRate Money

	// WeeksPaid counts fully settled weekly invoices.
	WeeksPaid int

	ScheduleGenerated bool
	CreatedAt         time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceKind string

const (
	KindAdminFee InvoiceKind = "admin-fee"
	KindWeekly   InvoiceKind = "weekly"
)

type Status string

const (
	StatusFuture    Status = "future"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the stored statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFuture, StatusPending, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Invoice is one installment derived from a contract.
//
// INVARIANTS:
//   - 0 <= PaidPrincipal <= Principal
//   - Status == paid  <=>  PaidPrincipal == Principal
//   - penalty accrues only for weekly invoices while pending
type Invoice struct {
	ID         InvoiceID
	Number     string
	ContractID ContractID
	ClientID   ClientID // display only

	Kind       InvoiceKind
	WeekNumber int // 0 for the admin fee

	PeriodStart Date
	PeriodEnd   Date
	DueDate     Date

	Principal        Money
	PaidPrincipal    Money
	PaidPenalty      Money
	DailyPenaltyRate Money // frozen at generation time

	Status Status

	// Version is bumped by every stored update (optimistic locking).
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period returns the service period the invoice bills for.
func (inv Invoice) Period() Period {
	return Period{Start: inv.PeriodStart, End: inv.PeriodEnd}
}

// OutstandingPrincipal is what remains of the billed amount.
func (inv Invoice) OutstandingPrincipal() Money {
	return inv.Principal.Sub(inv.PaidPrincipal)
}

// =============================================================================
// PAYMENT & CREDIT NOTE - Append-only records
// =============================================================================

// Payment records one amount received against an invoice and how it was
// split. Payments are never edited; corrections go through credit notes.
type Payment struct {
	ID         PaymentID
	InvoiceID  InvoiceID
	ContractID ContractID
	ClientID   ClientID

	Amount    Money
	Date      Date
	Method    string
	Reference string

	AppliedToPrincipal Money
	AppliedToPenalty   Money
	Unapplied          Money // surplus handed back to the caller

	CreatedAt time.Time
}

// CreditNote records the cancellation of an invoice.
type CreditNote struct {
	ID         CreditNoteID
	InvoiceID  InvoiceID
	ContractID ContractID
	ClientID   ClientID

	Amount    Money
	Reason    string
	IssueDate Date

	// ReversedProgress is true when the note decremented the contract's weeksPaid.
	ReversedProgress bool

	CreatedAt time.Time
}
