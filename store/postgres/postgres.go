/*
Package postgres provides a PostgreSQL implementation of billing.TxStore.

PURPOSE:
  The server-side store. Same contract as store/sqlite; differences are
  dialect only.

ENCODING:
  Money columns are NUMERIC and travel as decimal text in both directions
  (::numeric on write, ::text on read), so shopspring/decimal parses the
  exact value. DATE columns travel as "YYYY-MM-DD".

CONCURRENCY:
  Multiple engine processes may share one database. Two mechanisms keep
  them honest without explicit row locks:
  - UpdateInvoice: UPDATE ... WHERE version = $n; zero rows means another
    writer won and the caller gets ErrConcurrentModification.
  - MarkScheduleGenerated: UPDATE ... WHERE NOT schedule_generated; only
    one transaction can flip the flag.

SEE ALSO:
  - migrate.go: goose migrations embedded from migrations/
  - store/sqlite/sqlite.go: single-file equivalent
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/lease-billing/billing"
)

// Querier abstracts pgxpool.Pool and pgx.Tx so that queries can run
// against either without knowing which one they hold.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements billing.TxStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	queries
}

// NewPool creates a pool from a connection URL and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: queries{q: pool}}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check: %w", err)
	}
	return nil
}

// CreateInvoices adds all invoices atomically.
func (s *Store) CreateInvoices(ctx context.Context, invoices []billing.Invoice) error {
	return s.WithTx(ctx, func(tx billing.Store) error {
		return tx.CreateInvoices(ctx, invoices)
	})
}

// WithTx executes fn within a database transaction.
// If fn returns an error the transaction is rolled back; otherwise it is committed.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(&queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("postgres: rollback tx: %w (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

type queries struct {
	q Querier
}

const contractColumns = `id, client_id, number, signed_on::text, period_start::text,
	weekly_rent::text, admin_fee::text, term_weeks, daily_penalty_rate::text,
	weeks_paid, schedule_generated, created_at`

func (r *queries) CreateContract(ctx context.Context, c billing.Contract) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO contracts (id, client_id, number, signed_on, period_start, weekly_rent,
			admin_fee, term_weeks, daily_penalty_rate, weeks_paid, schedule_generated, created_at)
		VALUES ($1, $2, $3, $4::date, $5::date, $6::numeric, $7::numeric, $8, $9::numeric, $10, $11, $12)
	`,
		string(c.ID), string(c.ClientID), c.Number,
		c.SignedOn.String(), c.PeriodStart.String(),
		c.WeeklyRent.Value.String(), c.AdminFee.Value.String(),
		c.TermWeeks, c.DailyPenaltyRate.Value.String(),
		c.WeeksPaid, c.ScheduleGenerated, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrDuplicateContract
		}
		return fmt.Errorf("postgres: create contract: %w", err)
	}
	return nil
}

func (r *queries) GetContract(ctx context.Context, id billing.ContractID) (billing.Contract, error) {
	row := r.q.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, string(id))
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.Contract{}, billing.ErrContractNotFound
	}
	return c, err
}

func (r *queries) ListContracts(ctx context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE ($1 = '' OR client_id = $1)
		ORDER BY id
	`, string(clientID))
	if err != nil {
		return nil, fmt.Errorf("postgres: query contracts: %w", err)
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
	var weeks int
	err := r.q.QueryRow(ctx, `
		UPDATE contracts SET weeks_paid = GREATEST(0, weeks_paid + $2)
		WHERE id = $1
		RETURNING weeks_paid
	`, string(id), delta).Scan(&weeks)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, billing.ErrContractNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: adjust weeks paid: %w", err)
	}
	return weeks, nil
}

func (r *queries) MarkScheduleGenerated(ctx context.Context, id billing.ContractID) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE contracts SET schedule_generated = TRUE WHERE id = $1 AND NOT schedule_generated`,
		string(id),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark schedule generated: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetContract(ctx, id); err != nil {
		return err
	}
	return billing.ErrScheduleAlreadyGenerated
}

const invoiceColumns = `id, number, contract_id, client_id, kind, week_number,
	period_start::text, period_end::text, due_date::text,
	principal::text, paid_principal::text, paid_penalty::text, daily_penalty_rate::text,
	status, version, created_at, updated_at`

func (r *queries) CreateInvoices(ctx context.Context, invoices []billing.Invoice) error {
	for _, inv := range invoices {
		_, err := r.q.Exec(ctx, `
			INSERT INTO invoices (id, number, contract_id, client_id, kind, week_number,
				period_start, period_end, due_date, principal, paid_principal, paid_penalty,
				daily_penalty_rate, status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8::date, $9::date,
				$10::numeric, $11::numeric, $12::numeric, $13::numeric, $14, $15, $16, $17)
		`,
			string(inv.ID), inv.Number, string(inv.ContractID), string(inv.ClientID),
			string(inv.Kind), inv.WeekNumber,
			inv.PeriodStart.String(), inv.PeriodEnd.String(), inv.DueDate.String(),
			inv.Principal.Value.String(), inv.PaidPrincipal.Value.String(),
			inv.PaidPenalty.Value.String(), inv.DailyPenaltyRate.Value.String(),
			string(inv.Status), inv.Version, inv.CreatedAt, inv.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return billing.ErrDuplicateInvoice
			}
			return fmt.Errorf("postgres: create invoice %s: %w", inv.ID, err)
		}
	}
	return nil
}

func (r *queries) GetInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	row := r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, string(id))
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, err
}

func (r *queries) UpdateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE invoices
		SET paid_principal = $3::numeric, paid_penalty = $4::numeric, status = $5,
			updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`,
		string(inv.ID), inv.Version,
		inv.PaidPrincipal.Value.String(), inv.PaidPenalty.Value.String(),
		string(inv.Status), inv.UpdatedAt,
	)
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("postgres: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetInvoice(ctx, inv.ID); err != nil {
			return billing.Invoice{}, err
		}
		return billing.Invoice{}, billing.ErrConcurrentModification
	}
	inv.Version++
	return inv, nil
}

func (r *queries) ListInvoices(ctx context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		statuses[i] = string(st)
	}
	var dueBefore *string
	if filter.DueBefore != nil {
		d := filter.DueBefore.String()
		dueBefore = &d
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE ($1 = '' OR contract_id = $1)
		  AND ($2 = '' OR client_id = $2)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		  AND ($4::date IS NULL OR due_date <= $4::date)
		ORDER BY contract_id, week_number
	`, string(filter.ContractID), string(filter.ClientID), statuses, dueBefore)
	if err != nil {
		return nil, fmt.Errorf("postgres: query invoices: %w", err)
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

func (r *queries) CreatePayment(ctx context.Context, p billing.Payment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO payments (id, invoice_id, contract_id, client_id, amount, paid_on, method,
			reference, applied_to_principal, applied_to_penalty, unapplied, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::date, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12)
	`,
		string(p.ID), string(p.InvoiceID), string(p.ContractID), string(p.ClientID),
		p.Amount.Value.String(), p.Date.String(), p.Method, p.Reference,
		p.AppliedToPrincipal.Value.String(), p.AppliedToPenalty.Value.String(),
		p.Unapplied.Value.String(), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create payment: %w", err)
	}
	return nil
}

func (r *queries) ListPayments(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.Payment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, invoice_id, contract_id, client_id, amount::text, paid_on::text, method, reference,
			applied_to_principal::text, applied_to_penalty::text, unapplied::text, created_at
		FROM payments WHERE invoice_id = $1 ORDER BY seq
	`, string(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("postgres: query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		var (
			pm                                        billing.Payment
			amount, paidOn, toPrincipal, toPenalty, u string
		)
		if err := rows.Scan(&pm.ID, &pm.InvoiceID, &pm.ContractID, &pm.ClientID,
			&amount, &paidOn, &pm.Method, &pm.Reference,
			&toPrincipal, &toPenalty, &u, &pm.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan payment: %w", err)
		}
		var p parser
		pm.Amount = p.money(amount)
		pm.Date = p.date(paidOn)
		pm.AppliedToPrincipal = p.money(toPrincipal)
		pm.AppliedToPenalty = p.money(toPenalty)
		pm.Unapplied = p.money(u)
		if p.err != nil {
			return nil, p.err
		}
		payments = append(payments, pm)
	}
	return payments, rows.Err()
}

func (r *queries) CreateCreditNote(ctx context.Context, cn billing.CreditNote) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO credit_notes (id, invoice_id, contract_id, client_id, amount, reason,
			issue_date, reversed_progress, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::date, $8, $9)
	`,
		string(cn.ID), string(cn.InvoiceID), string(cn.ContractID), string(cn.ClientID),
		cn.Amount.Value.String(), cn.Reason, cn.IssueDate.String(),
		cn.ReversedProgress, cn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create credit note: %w", err)
	}
	return nil
}

func (r *queries) ListCreditNotes(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.CreditNote, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, invoice_id, contract_id, client_id, amount::text, reason, issue_date::text,
			reversed_progress, created_at
		FROM credit_notes WHERE invoice_id = $1 ORDER BY seq
	`, string(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("postgres: query credit notes: %w", err)
	}
	defer rows.Close()

	var notes []billing.CreditNote
	for rows.Next() {
		var (
			cn                billing.CreditNote
			amount, issueDate string
		)
		if err := rows.Scan(&cn.ID, &cn.InvoiceID, &cn.ContractID, &cn.ClientID,
			&amount, &cn.Reason, &issueDate, &cn.ReversedProgress, &cn.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan credit note: %w", err)
		}
		var p parser
		cn.Amount = p.money(amount)
		cn.IssueDate = p.date(issueDate)
		if p.err != nil {
			return nil, p.err
		}
		notes = append(notes, cn)
	}
	return notes, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

func scanContract(row pgx.Row) (billing.Contract, error) {
	var (
		c                                 billing.Contract
		signedOn, periodStart             string
		weeklyRent, adminFee, penaltyRate string
	)
	err := row.Scan(&c.ID, &c.ClientID, &c.Number, &signedOn, &periodStart,
		&weeklyRent, &adminFee, &c.TermWeeks, &penaltyRate,
		&c.WeeksPaid, &c.ScheduleGenerated, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("postgres: scan contract: %w", err)
	}

	var p parser
	c.SignedOn = p.date(signedOn)
	c.PeriodStart = p.date(periodStart)
	c.WeeklyRent = p.money(weeklyRent)
	c.AdminFee = p.money(adminFee)
	c.DailyPenaltyRate = p.money(penaltyRate)
	return c, p.err
}

func scanInvoice(row pgx.Row) (billing.Invoice, error) {
	var (
		inv                                         billing.Invoice
		periodStart, periodEnd, dueDate             string
		principal, paidPrincipal, paidPenalty, rate string
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.ContractID, &inv.ClientID, &inv.Kind, &inv.WeekNumber,
		&periodStart, &periodEnd, &dueDate,
		&principal, &paidPrincipal, &paidPenalty, &rate,
		&inv.Status, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inv, err
		}
		return inv, fmt.Errorf("postgres: scan invoice: %w", err)
	}

	var p parser
	inv.PeriodStart = p.date(periodStart)
	inv.PeriodEnd = p.date(periodEnd)
	inv.DueDate = p.date(dueDate)
	inv.Principal = p.money(principal)
	inv.PaidPrincipal = p.money(paidPrincipal)
	inv.PaidPenalty = p.money(paidPenalty)
	inv.DailyPenaltyRate = p.money(rate)
	return inv, p.err
}

// parser keeps the first decode error.
type parser struct {
	err error
}

func (p *parser) money(s string) billing.Money {
	m, err := billing.ParseMoney(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("postgres: decode amount: %w", err)
	}
	return m
}

func (p *parser) date(s string) billing.Date {
	d, err := billing.ParseDate(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("postgres: decode date: %w", err)
	}
	return d
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
