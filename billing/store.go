/*
store.go - Persistence interfaces for contracts, invoices, payments and credit notes

PURPOSE:
  Defines the boundary between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  ContractStore:   contract terms and the weeksPaid counter
  InvoiceStore:    bulk create, point read, versioned update, filtered list
  PaymentStore:    append-only
  CreditNoteStore: append-only
  TxStore:         runs a function over all of the above atomically

ATOMIC UNITS:
  Every engine operation (generate schedule, apply payment, apply credit
  note) touches several records. They run inside WithTx so that either all
  writes land or none do. A payment recorded without its invoice update is
  exactly the corruption this prevents.

OPTIMISTIC LOCKING:
  UpdateInvoice only succeeds if the stored Version equals the Version of the
  invoice passed in; the store then increments it. A mismatch returns
  ErrConcurrentModification and the caller's transaction is rolled back.

IMPLEMENTATIONS:
  - billing/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx)
*/
package billing

import "context"

// ContractStore persists contracts.
type ContractStore interface {
	// CreateContract stores a new contract. ErrDuplicateContract if the ID exists.
	CreateContract(ctx context.Context, c Contract) error

	// GetContract returns ErrContractNotFound if missing.
	GetContract(ctx context.Context, id ContractID) (Contract, error)

	// ListContracts returns contracts, optionally for one client.
	ListContracts(ctx context.Context, clientID ClientID) ([]Contract, error)

	// AdjustWeeksPaid atomically adds delta to weeksPaid, flooring at 0,
	// and returns the new value.
	AdjustWeeksPaid(ctx context.Context, id ContractID, delta int) (int, error)

	// MarkScheduleGenerated sets the flag, or returns
	// ErrScheduleAlreadyGenerated if it is already set.
	MarkScheduleGenerated(ctx context.Context, id ContractID) error
}

// InvoiceFilter narrows ListInvoices. Zero values match everything.
type InvoiceFilter struct {
	ContractID ContractID
	ClientID   ClientID
	Statuses   []Status
	DueBefore  *Date // due date <= DueBefore
}

// InvoiceStore persists invoices. Invoices are never deleted.
type InvoiceStore interface {
	// CreateInvoices stores all invoices or none.
	CreateInvoices(ctx context.Context, invoices []Invoice) error

	// GetInvoice returns ErrInvoiceNotFound if missing.
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)

	// UpdateInvoice writes inv if the stored version matches inv.Version.
	// Returns the invoice with its new version.
	UpdateInvoice(ctx context.Context, inv Invoice) (Invoice, error)

	// ListInvoices returns invoices ordered by contract then week number.
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
}

// PaymentStore is append-only.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, invoiceID InvoiceID) ([]Payment, error)
}

// CreditNoteStore is append-only.
type CreditNoteStore interface {
	CreateCreditNote(ctx context.Context, cn CreditNote) error
	ListCreditNotes(ctx context.Context, invoiceID InvoiceID) ([]CreditNote, error)
}

// Store groups every persistence concern of the engine.
type Store interface {
	ContractStore
	InvoiceStore
	PaymentStore
	CreditNoteStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// MatchesStatus reports whether a stored status passes the filter.
func (f InvoiceFilter) MatchesStatus(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if want == s {
			return true
		}
	}
	return false
}
