/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Persists contracts, invoices, payments and credit notes in a single SQLite
  file. Used for single-node deployments and integration tests (":memory:").
  store/postgres implements the same interface for server deployments.

KEY TABLES:
  contracts:    terms, weeks_paid counter, schedule_generated flag
  invoices:     one row per installment, versioned for optimistic locking
  payments:     append-only, with the waterfall split of each payment
  credit_notes: append-only

ENCODING:
  Money is stored as decimal TEXT ("100.00") and parsed back with
  shopspring/decimal, so no value ever passes through a float.
  Calendar days are stored as TEXT "YYYY-MM-DD", which sorts and compares
  correctly as a string.

APPEND-ONLY ENFORCEMENT:
  There are no UPDATE or DELETE statements on payments or credit_notes.
  Invoices are never deleted; cancellation is a status change.

CONCURRENCY:
  Uses sync.RWMutex plus a single connection: SQLite has one writer anyway,
  and ":memory:" databases are per-connection. Invoice updates also carry a
  version check so the same code behaves correctly against a shared file.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := billing.NewEngine(store, clock)

MIGRATION:
  Schema is auto-migrated on New(). store/postgres uses goose with
  versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/lease-billing/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		number TEXT,
		signed_on TEXT NOT NULL,
		period_start TEXT NOT NULL,
		weekly_rent TEXT NOT NULL,
		admin_fee TEXT NOT NULL,
		term_weeks INTEGER NOT NULL CHECK (term_weeks > 0),
		daily_penalty_rate TEXT NOT NULL,
		weeks_paid INTEGER NOT NULL DEFAULT 0 CHECK (weeks_paid >= 0),
		schedule_generated INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_client ON contracts(client_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		client_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('admin-fee', 'weekly')),
		week_number INTEGER NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		due_date TEXT NOT NULL,
		principal TEXT NOT NULL,
		paid_principal TEXT NOT NULL,
		paid_penalty TEXT NOT NULL,
		daily_penalty_rate TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('future', 'pending', 'paid', 'cancelled')),
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (contract_id, week_number)
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_contract ON invoices(contract_id, week_number);
	CREATE INDEX IF NOT EXISTS idx_invoices_client ON invoices(client_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status_due ON invoices(status, due_date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		contract_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_on TEXT NOT NULL,
		method TEXT,
		reference TEXT,
		applied_to_principal TEXT NOT NULL,
		applied_to_penalty TEXT NOT NULL,
		unapplied TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_invoice ON payments(invoice_id, created_at);

	CREATE TABLE IF NOT EXISTS credit_notes (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		contract_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT,
		issue_date TEXT NOT NULL,
		reversed_progress INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_notes_invoice ON credit_notes(invoice_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ENTRY POINTS (billing.Store interface)
// =============================================================================

func (s *Store) CreateContract(ctx context.Context, c billing.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.CreateContract(ctx, c)
}

func (s *Store) GetContract(ctx context.Context, id billing.ContractID) (billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.GetContract(ctx, id)
}

func (s *Store) ListContracts(ctx context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListContracts(ctx, clientID)
}

func (s *Store) AdjustWeeksPaid(ctx context.Context, id billing.ContractID, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AdjustWeeksPaid(ctx, id, delta)
}

func (s *Store) MarkScheduleGenerated(ctx context.Context, id billing.ContractID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.MarkScheduleGenerated(ctx, id)
}

// CreateInvoices adds all invoices atomically.
func (s *Store) CreateInvoices(ctx context.Context, invoices []billing.Invoice) error {
	return s.WithTx(ctx, func(tx billing.Store) error {
		return tx.CreateInvoices(ctx, invoices)
	})
}

func (s *Store) GetInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.GetInvoice(ctx, id)
}

func (s *Store) UpdateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdateInvoice(ctx, inv)
}

func (s *Store) ListInvoices(ctx context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListInvoices(ctx, filter)
}

func (s *Store) CreatePayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.CreatePayment(ctx, p)
}

func (s *Store) ListPayments(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListPayments(ctx, invoiceID)
}

func (s *Store) CreateCreditNote(ctx context.Context, cn billing.CreditNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.CreateCreditNote(ctx, cn)
}

func (s *Store) ListCreditNotes(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListCreditNotes(ctx, invoiceID)
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Reads made
// through the store passed to fn see the transaction's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - shared by the store and its transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

const contractColumns = `id, client_id, number, signed_on, period_start, weekly_rent, admin_fee,
	term_weeks, daily_penalty_rate, weeks_paid, schedule_generated, created_at`

func (r *queries) CreateContract(ctx context.Context, c billing.Contract) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.ClientID, nullString(c.Number),
		c.SignedOn.String(), c.PeriodStart.String(),
		c.WeeklyRent.Value.String(), c.AdminFee.Value.String(),
		c.TermWeeks, c.DailyPenaltyRate.Value.String(),
		c.WeeksPaid, c.ScheduleGenerated,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateContract
		}
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

func (r *queries) GetContract(ctx context.Context, id billing.ContractID) (billing.Contract, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Contract{}, billing.ErrContractNotFound
	}
	return c, err
}

func (r *queries) ListContracts(ctx context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	query += ` ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []billing.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func (r *queries) AdjustWeeksPaid(ctx context.Context, id billing.ContractID, delta int) (int, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE contracts SET weeks_paid = MAX(0, weeks_paid + ?) WHERE id = ?`,
		delta, id,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust weeks paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, billing.ErrContractNotFound
	}

	var weeks int
	if err := r.q.QueryRowContext(ctx, `SELECT weeks_paid FROM contracts WHERE id = ?`, id).Scan(&weeks); err != nil {
		return 0, fmt.Errorf("failed to read weeks paid: %w", err)
	}
	return weeks, nil
}

func (r *queries) MarkScheduleGenerated(ctx context.Context, id billing.ContractID) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE contracts SET schedule_generated = 1 WHERE id = ? AND schedule_generated = 0`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark schedule generated: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetContract(ctx, id); err != nil {
		return err
	}
	return billing.ErrScheduleAlreadyGenerated
}

const invoiceColumns = `id, number, contract_id, client_id, kind, week_number,
	period_start, period_end, due_date, principal, paid_principal, paid_penalty,
	daily_penalty_rate, status, version, created_at, updated_at`

func (r *queries) CreateInvoices(ctx context.Context, invoices []billing.Invoice) error {
	for _, inv := range invoices {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			inv.ID, inv.Number, inv.ContractID, inv.ClientID, inv.Kind, inv.WeekNumber,
			inv.PeriodStart.String(), inv.PeriodEnd.String(), inv.DueDate.String(),
			inv.Principal.Value.String(), inv.PaidPrincipal.Value.String(), inv.PaidPenalty.Value.String(),
			inv.DailyPenaltyRate.Value.String(), inv.Status, inv.Version,
			formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return billing.ErrDuplicateInvoice
			}
			return fmt.Errorf("failed to create invoice %s: %w", inv.ID, err)
		}
	}
	return nil
}

func (r *queries) GetInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, err
}

// UpdateInvoice writes the mutable columns if the stored version matches.
func (r *queries) UpdateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE invoices
		SET paid_principal = ?, paid_penalty = ?, status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		inv.PaidPrincipal.Value.String(), inv.PaidPenalty.Value.String(), inv.Status,
		formatTime(inv.UpdatedAt), inv.ID, inv.Version,
	)
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("failed to update invoice: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetInvoice(ctx, inv.ID); err != nil {
			return billing.Invoice{}, err
		}
		return billing.Invoice{}, billing.ErrConcurrentModification
	}
	inv.Version++
	return inv, nil
}

func (r *queries) ListInvoices(ctx context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if filter.ContractID != "" {
		where = append(where, "contract_id = ?")
		args = append(args, filter.ContractID)
	}
	if filter.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.DueBefore != nil {
		where = append(where, "due_date <= ?")
		args = append(args, filter.DueBefore.String())
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY contract_id, week_number`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

const paymentColumns = `id, invoice_id, contract_id, client_id, amount, paid_on, method, reference,
	applied_to_principal, applied_to_penalty, unapplied, created_at`

func (r *queries) CreatePayment(ctx context.Context, p billing.Payment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.InvoiceID, p.ContractID, p.ClientID,
		p.Amount.Value.String(), p.Date.String(),
		nullString(p.Method), nullString(p.Reference),
		p.AppliedToPrincipal.Value.String(), p.AppliedToPenalty.Value.String(), p.Unapplied.Value.String(),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *queries) ListPayments(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.Payment, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE invoice_id = ? ORDER BY created_at, rowid`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

const creditNoteColumns = `id, invoice_id, contract_id, client_id, amount, reason, issue_date,
	reversed_progress, created_at`

func (r *queries) CreateCreditNote(ctx context.Context, cn billing.CreditNote) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credit_notes (`+creditNoteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cn.ID, cn.InvoiceID, cn.ContractID, cn.ClientID,
		cn.Amount.Value.String(), nullString(cn.Reason), cn.IssueDate.String(),
		cn.ReversedProgress, formatTime(cn.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create credit note: %w", err)
	}
	return nil
}

func (r *queries) ListCreditNotes(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.CreditNote, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+creditNoteColumns+` FROM credit_notes WHERE invoice_id = ? ORDER BY created_at, rowid`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit notes: %w", err)
	}
	defer rows.Close()

	var notes []billing.CreditNote
	for rows.Next() {
		cn, err := scanCreditNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, cn)
	}
	return notes, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanContract(row scanner) (billing.Contract, error) {
	var (
		c                                 billing.Contract
		number                            sql.NullString
		signedOn, periodStart, createdAt  string
		weeklyRent, adminFee, penaltyRate string
	)
	err := row.Scan(
		&c.ID, &c.ClientID, &number, &signedOn, &periodStart,
		&weeklyRent, &adminFee, &c.TermWeeks, &penaltyRate,
		&c.WeeksPaid, &c.ScheduleGenerated, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan contract: %w", err)
	}

	c.Number = number.String
	p := parser{}
	c.SignedOn = p.date(signedOn)
	c.PeriodStart = p.date(periodStart)
	c.WeeklyRent = p.money(weeklyRent)
	c.AdminFee = p.money(adminFee)
	c.DailyPenaltyRate = p.money(penaltyRate)
	c.CreatedAt = p.time(createdAt)
	return c, p.err
}

func scanInvoice(row scanner) (billing.Invoice, error) {
	var (
		inv                                         billing.Invoice
		periodStart, periodEnd, dueDate             string
		principal, paidPrincipal, paidPenalty, rate string
		createdAt, updatedAt                        string
	)
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.ContractID, &inv.ClientID, &inv.Kind, &inv.WeekNumber,
		&periodStart, &periodEnd, &dueDate,
		&principal, &paidPrincipal, &paidPenalty, &rate,
		&inv.Status, &inv.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inv, err
		}
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	p := parser{}
	inv.PeriodStart = p.date(periodStart)
	inv.PeriodEnd = p.date(periodEnd)
	inv.DueDate = p.date(dueDate)
	inv.Principal = p.money(principal)
	inv.PaidPrincipal = p.money(paidPrincipal)
	inv.PaidPenalty = p.money(paidPenalty)
	inv.DailyPenaltyRate = p.money(rate)
	inv.CreatedAt = p.time(createdAt)
	inv.UpdatedAt = p.time(updatedAt)
	return inv, p.err
}

func scanPayment(row scanner) (billing.Payment, error) {
	var (
		pm                                billing.Payment
		method, reference                 sql.NullString
		amount, paidOn, createdAt         string
		toPrincipal, toPenalty, unapplied string
	)
	err := row.Scan(
		&pm.ID, &pm.InvoiceID, &pm.ContractID, &pm.ClientID,
		&amount, &paidOn, &method, &reference,
		&toPrincipal, &toPenalty, &unapplied, &createdAt,
	)
	if err != nil {
		return pm, fmt.Errorf("failed to scan payment: %w", err)
	}

	p := parser{}
	pm.Amount = p.money(amount)
	pm.Date = p.date(paidOn)
	pm.Method = method.String
	pm.Reference = reference.String
	pm.AppliedToPrincipal = p.money(toPrincipal)
	pm.AppliedToPenalty = p.money(toPenalty)
	pm.Unapplied = p.money(unapplied)
	pm.CreatedAt = p.time(createdAt)
	return pm, p.err
}

func scanCreditNote(row scanner) (billing.CreditNote, error) {
	var (
		cn                           billing.CreditNote
		reason                       sql.NullString
		amount, issueDate, createdAt string
	)
	err := row.Scan(
		&cn.ID, &cn.InvoiceID, &cn.ContractID, &cn.ClientID,
		&amount, &reason, &issueDate, &cn.ReversedProgress, &createdAt,
	)
	if err != nil {
		return cn, fmt.Errorf("failed to scan credit note: %w", err)
	}

	p := parser{}
	cn.Amount = p.money(amount)
	cn.Reason = reason.String
	cn.IssueDate = p.date(issueDate)
	cn.CreatedAt = p.time(createdAt)
	return cn, p.err
}

// parser keeps the first decode error so scans stay linear.
type parser struct {
	err error
}

func (p *parser) money(s string) billing.Money {
	m, err := billing.ParseMoney(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("failed to decode amount: %w", err)
	}
	return m
}

func (p *parser) date(s string) billing.Date {
	d, err := billing.ParseDate(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("failed to decode date: %w", err)
	}
	return d
}

func (p *parser) time(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("failed to decode timestamp: %w", err)
	}
	return t
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
