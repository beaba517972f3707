/*
engine.go - Orchestrates billing operations as atomic units of work

PURPOSE:
  The pure functions in this package (GenerateSchedule, Allocate, Cancel)
  decide WHAT changes. The Engine loads records, calls them, and persists
  every resulting write in a single transaction.

OPERATIONS:
  CreateContract      validate terms, store the contract
  GenerateSchedule    flag + invoices in one transaction (exactly once)
  ApplyPayment        waterfall + invoice update + payment record + weeksPaid
  ApplyCreditNote     cancel + credit note record + weeksPaid reversal
  GetInvoice          invoice with derived state and penalty
  ListInvoices        filtered by contract, client, display state
  ContractStatement   see statement.go
  PromoteDueInvoices  housekeeping: persists future -> pending

CONCURRENCY:
  Mutations of one invoice are serialized in-process with a per-invoice
  lock. Across processes, the store's version check rejects the second
  writer with ErrConcurrentModification. Conflicts are surfaced, never
  retried here: the caller decides whether to resubmit.

EVENTS:
  Published only after the transaction commits. A publish failure is logged
  and does not fail the operation; the stored state is already correct.

EXAMPLE:
  eng := billing.NewEngine(store, billing.SystemClock{Location: loc})
  eng.Publisher = kafkaPublisher

  c, _ := eng.CreateContract(ctx, terms)
  invoices, _ := eng.GenerateSchedule(ctx, c.ID)
  res, _ := eng.ApplyPayment(ctx, billing.PaymentInput{InvoiceID: invoices[0].ID, Amount: amt})
*/
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/lease-billing/events"
)

// Limits bound the amounts the engine accepts.
type Limits struct {
	// MaxAmount is the largest single payment or credit note.
	MaxAmount Money
	// DefaultDailyPenaltyRate applies when contract terms leave the rate unset.
	DefaultDailyPenaltyRate Money
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxAmount:               NewMoneyFromInt(1_000_000),
		DefaultDailyPenaltyRate: NewMoneyFromInt(5),
	}
}

// Engine runs billing operations against a transactional store.
type Engine struct {
	Store     TxStore
	Clock     Clock
	Publisher events.Publisher
	Logger    zerolog.Logger
	Limits    Limits

	// Now stamps CreatedAt/UpdatedAt. Defaults to time.Now.
	Now func() time.Time

	locks invoiceLocks
}

// NewEngine creates an engine with default limits, no event publishing and
// a disabled logger.
func NewEngine(store TxStore, clock Clock) *Engine {
	return &Engine{
		Store:     store,
		Clock:     clock,
		Publisher: events.NopPublisher{},
		Logger:    zerolog.Nop(),
		Limits:    DefaultLimits(),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// CONTRACTS & SCHEDULE
// =============================================================================

// CreateContract validates terms and stores the contract.
func (e *Engine) CreateContract(ctx context.Context, terms ContractTerms) (Contract, error) {
	c, err := NewContract(terms, e.Limits.DefaultDailyPenaltyRate, e.now())
	if err != nil {
		return Contract{}, err
	}
	if err := e.Store.CreateContract(ctx, c); err != nil {
		return Contract{}, fmt.Errorf("create contract %s: %w", c.ID, err)
	}
	e.Logger.Info().
		Str("contract_id", string(c.ID)).
		Str("client_id", string(c.ClientID)).
		Int("term_weeks", c.TermWeeks).
		Msg("contract created")
	return c, nil
}

// GetContract returns a stored contract.
func (e *Engine) GetContract(ctx context.Context, id ContractID) (Contract, error) {
	return e.Store.GetContract(ctx, id)
}

// GenerateSchedule creates a contract's invoices exactly once. The flag is
// checked and set in the same transaction as the inserts, so two concurrent
// calls cannot both succeed.
func (e *Engine) GenerateSchedule(ctx context.Context, id ContractID) ([]Invoice, error) {
	today := e.Clock.Today()
	now := e.now()

	var invoices []Invoice
	err := e.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetContract(ctx, id)
		if err != nil {
			return err
		}
		if c.ScheduleGenerated {
			return ErrScheduleAlreadyGenerated
		}
		if err := s.MarkScheduleGenerated(ctx, id); err != nil {
			return err
		}

		invoices = GenerateSchedule(c, today)
		for i := range invoices {
			invoices[i].Version = 1
			invoices[i].CreatedAt = now
			invoices[i].UpdatedAt = now
		}
		if err := s.CreateInvoices(ctx, invoices); err != nil {
			return err
		}

		if settled := SettledWeeks(invoices); settled > 0 {
			if _, err := s.AdjustWeeksPaid(ctx, id, settled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate schedule for contract %s: %w", id, err)
	}

	e.Logger.Info().
		Str("contract_id", string(id)).
		Int("invoices", len(invoices)).
		Msg("schedule generated")
	e.publish(ctx, events.New(events.TypeScheduleGenerated, string(id), scheduleGeneratedPayload{
		ContractID: id,
		Invoices:   len(invoices),
	}))
	return invoices, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentInput is one amount received against an invoice.
type PaymentInput struct {
	InvoiceID InvoiceID
	Amount    Money
	Method    string
	Reference string
}

// PaymentResult reports what a payment did.
type PaymentResult struct {
	Payment    Payment
	Invoice    Invoice
	Allocation Allocation
	// Contract is set when the payment settled a weekly invoice and advanced
	// weeksPaid.
	Contract *Contract
}

// ApplyPayment allocates a payment to one invoice. Penalty is computed as of
// the clock's today. Any surplus is returned in the result, never absorbed.
func (e *Engine) ApplyPayment(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	if err := e.checkAmount(in.Amount, "payment"); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(in.InvoiceID)
	defer unlock()

	today := e.Clock.Today()
	now := e.now()

	var result PaymentResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}

		alloc, updated, err := Allocate(inv, in.Amount, today)
		if err != nil {
			return err
		}
		updated.UpdatedAt = now
		saved, err := s.UpdateInvoice(ctx, updated)
		if err != nil {
			return err
		}

		payment := Payment{
			ID:                 PaymentID(uuid.NewString()),
			InvoiceID:          saved.ID,
			ContractID:         saved.ContractID,
			ClientID:           saved.ClientID,
			Amount:             in.Amount,
			Date:               today,
			Method:             in.Method,
			Reference:          in.Reference,
			AppliedToPrincipal: alloc.ToPrincipal,
			AppliedToPenalty:   alloc.ToPenalty,
			Unapplied:          alloc.Surplus,
			CreatedAt:          now,
		}
		if err := s.CreatePayment(ctx, payment); err != nil {
			return err
		}

		result = PaymentResult{Payment: payment, Invoice: saved, Allocation: alloc}

		if alloc.Settled && CountsTowardProgress(saved) {
			if _, err := s.AdjustWeeksPaid(ctx, saved.ContractID, 1); err != nil {
				return err
			}
			c, err := s.GetContract(ctx, saved.ContractID)
			if err != nil {
				return err
			}
			result.Contract = &c
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply payment to invoice %s: %w", in.InvoiceID, err)
	}

	e.Logger.Info().
		Str("invoice_id", string(result.Invoice.ID)).
		Str("payment_id", string(result.Payment.ID)).
		Str("amount", in.Amount.String()).
		Str("to_principal", result.Allocation.ToPrincipal.String()).
		Str("to_penalty", result.Allocation.ToPenalty.String()).
		Str("surplus", result.Allocation.Surplus.String()).
		Str("status", string(result.Invoice.Status)).
		Msg("payment applied")

	evts := []events.Event{events.New(events.TypePaymentApplied, string(result.Invoice.ID), paymentAppliedPayload{
		PaymentID:   result.Payment.ID,
		InvoiceID:   result.Invoice.ID,
		ContractID:  result.Invoice.ContractID,
		Amount:      in.Amount,
		ToPrincipal: result.Allocation.ToPrincipal,
		ToPenalty:   result.Allocation.ToPenalty,
		Surplus:     result.Allocation.Surplus,
	})}
	if result.Allocation.Settled {
		evts = append(evts, events.New(events.TypeInvoicePaid, string(result.Invoice.ID), invoicePaidPayload{
			InvoiceID:  result.Invoice.ID,
			ContractID: result.Invoice.ContractID,
			WeeksPaid:  weeksPaidOf(result.Contract),
		}))
	}
	e.publish(ctx, evts...)

	return &result, nil
}

// ListPayments returns the payments recorded against an invoice.
func (e *Engine) ListPayments(ctx context.Context, id InvoiceID) ([]Payment, error) {
	if _, err := e.Store.GetInvoice(ctx, id); err != nil {
		return nil, err
	}
	return e.Store.ListPayments(ctx, id)
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

// CreditNoteInput requests the cancellation of an invoice.
type CreditNoteInput struct {
	InvoiceID InvoiceID
	Amount    Money
	Reason    string
}

// CreditNoteResult reports what a credit note did.
type CreditNoteResult struct {
	CreditNote CreditNote
	Invoice    Invoice
	// Contract is set when the note reversed contract progress.
	Contract *Contract
}

// ApplyCreditNote cancels an invoice. If the invoice was a paid weekly
// installment, the contract's weeksPaid is decremented, floored at zero.
func (e *Engine) ApplyCreditNote(ctx context.Context, in CreditNoteInput) (*CreditNoteResult, error) {
	if err := e.checkAmount(in.Amount, "credit note"); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(in.InvoiceID)
	defer unlock()

	today := e.Clock.Today()
	now := e.now()

	var result CreditNoteResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}

		updated, wasPaid, err := Cancel(inv, today)
		if err != nil {
			return err
		}
		updated.UpdatedAt = now
		saved, err := s.UpdateInvoice(ctx, updated)
		if err != nil {
			return err
		}

		reverses := ReversesProgress(saved, wasPaid)
		note := CreditNote{
			ID:               CreditNoteID(uuid.NewString()),
			InvoiceID:        saved.ID,
			ContractID:       saved.ContractID,
			ClientID:         saved.ClientID,
			Amount:           in.Amount,
			Reason:           in.Reason,
			IssueDate:        today,
			ReversedProgress: reverses,
			CreatedAt:        now,
		}
		if err := s.CreateCreditNote(ctx, note); err != nil {
			return err
		}

		result = CreditNoteResult{CreditNote: note, Invoice: saved}

		if reverses {
			if _, err := s.AdjustWeeksPaid(ctx, saved.ContractID, -1); err != nil {
				return err
			}
			c, err := s.GetContract(ctx, saved.ContractID)
			if err != nil {
				return err
			}
			result.Contract = &c
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply credit note to invoice %s: %w", in.InvoiceID, err)
	}

	e.Logger.Info().
		Str("invoice_id", string(result.Invoice.ID)).
		Str("credit_note_id", string(result.CreditNote.ID)).
		Str("amount", in.Amount.String()).
		Bool("reversed_progress", result.CreditNote.ReversedProgress).
		Msg("credit note applied")

	e.publish(ctx, events.New(events.TypeCreditNoteApplied, string(result.Invoice.ID), creditNoteAppliedPayload{
		CreditNoteID:     result.CreditNote.ID,
		InvoiceID:        result.Invoice.ID,
		ContractID:       result.Invoice.ContractID,
		Amount:           in.Amount,
		ReversedProgress: result.CreditNote.ReversedProgress,
		WeeksPaid:        weeksPaidOf(result.Contract),
	}))

	return &result, nil
}

// ListCreditNotes returns the credit notes issued against an invoice.
func (e *Engine) ListCreditNotes(ctx context.Context, id InvoiceID) ([]CreditNote, error) {
	if _, err := e.Store.GetInvoice(ctx, id); err != nil {
		return nil, err
	}
	return e.Store.ListCreditNotes(ctx, id)
}

// =============================================================================
// READS
// =============================================================================

// InvoiceView is an invoice with everything derived at read time.
type InvoiceView struct {
	Invoice
	EffectiveStatus      Status
	Display              DisplayState
	DaysLate             int
	AccruedPenalty       Money
	OutstandingPenalty   Money
	OutstandingPrincipal Money
	// TotalDue is what the tenant owes today: principal plus penalty.
	TotalDue Money
}

// ViewOf derives the read model of inv as of today.
func ViewOf(inv Invoice, today Date) InvoiceView {
	principal := inv.OutstandingPrincipal()
	penalty := OutstandingPenalty(inv, today)
	status := EffectiveStatus(inv, today)
	if status == StatusCancelled {
		principal = Zero
	}
	return InvoiceView{
		Invoice:              inv,
		EffectiveStatus:      status,
		Display:              DisplayStateOf(inv, today),
		DaysLate:             DaysLate(inv, today),
		AccruedPenalty:       AccruedPenalty(inv, today),
		OutstandingPenalty:   penalty,
		OutstandingPrincipal: principal,
		TotalDue:             principal.Add(penalty),
	}
}

// GetInvoice returns one invoice with its derived state.
func (e *Engine) GetInvoice(ctx context.Context, id InvoiceID) (InvoiceView, error) {
	inv, err := e.Store.GetInvoice(ctx, id)
	if err != nil {
		return InvoiceView{}, err
	}
	return ViewOf(inv, e.Clock.Today()), nil
}

// InvoiceQuery selects invoices by derived display state. A pending query
// also matches overdue invoices, which are pending with a past due date.
type InvoiceQuery struct {
	ContractID ContractID
	ClientID   ClientID
	States     []DisplayState
}

func (q InvoiceQuery) matches(d DisplayState) bool {
	if len(q.States) == 0 {
		return true
	}
	for _, want := range q.States {
		if want == d || (want == DisplayPending && d == DisplayOverdue) {
			return true
		}
	}
	return false
}

// ListInvoices returns invoices ordered by contract then week number.
func (e *Engine) ListInvoices(ctx context.Context, q InvoiceQuery) ([]InvoiceView, error) {
	invoices, err := e.Store.ListInvoices(ctx, InvoiceFilter{ContractID: q.ContractID, ClientID: q.ClientID})
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	today := e.Clock.Today()
	views := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		v := ViewOf(inv, today)
		if q.matches(v.Display) {
			views = append(views, v)
		}
	}
	return views, nil
}

// PromoteDueInvoices persists the future -> pending transition for every
// invoice whose due date has arrived. Reads already derive this; the sweep
// keeps stored statuses in line for anything that queries the store
// directly. Returns the number of invoices promoted.
func (e *Engine) PromoteDueInvoices(ctx context.Context) (int, error) {
	today := e.Clock.Today()
	now := e.now()

	promoted := 0
	err := e.Store.WithTx(ctx, func(s Store) error {
		due, err := s.ListInvoices(ctx, InvoiceFilter{
			Statuses:  []Status{StatusFuture},
			DueBefore: &today,
		})
		if err != nil {
			return err
		}
		for _, inv := range due {
			inv.Status = StatusPending
			inv.UpdatedAt = now
			if _, err := s.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
			promoted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("promote due invoices: %w", err)
	}
	if promoted > 0 {
		e.Logger.Info().Int("promoted", promoted).Str("as_of", today.String()).Msg("due invoices promoted")
	}
	return promoted, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) checkAmount(amount Money, what string) error {
	if !amount.IsPositive() {
		return &InvalidAmountError{Amount: amount, Reason: what + " amount must be positive"}
	}
	if !e.Limits.MaxAmount.IsZero() && amount.GreaterThan(e.Limits.MaxAmount) {
		return &InvalidAmountError{Amount: amount, Reason: fmt.Sprintf("%s amount exceeds maximum %s", what, e.Limits.MaxAmount)}
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

func (e *Engine) publish(ctx context.Context, evts ...events.Event) {
	if e.Publisher == nil {
		return
	}
	if err := e.Publisher.Publish(ctx, evts...); err != nil {
		e.Logger.Warn().Err(err).Int("events", len(evts)).Msg("event publish failed")
	}
}

func weeksPaidOf(c *Contract) *int {
	if c == nil {
		return nil
	}
	n := c.WeeksPaid
	return &n
}

// invoiceLocks hands out one mutex per invoice, created on demand and
// dropped once no goroutine holds or waits for it.
type invoiceLocks struct {
	mu      sync.Mutex
	entries map[InvoiceID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *invoiceLocks) lock(id InvoiceID) (unlock func()) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[InvoiceID]*lockEntry)
	}
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

// =============================================================================
// EVENT PAYLOADS
// =============================================================================

type scheduleGeneratedPayload struct {
	ContractID ContractID `json:"contract_id"`
	Invoices   int        `json:"invoices"`
}

type paymentAppliedPayload struct {
	PaymentID   PaymentID  `json:"payment_id"`
	InvoiceID   InvoiceID  `json:"invoice_id"`
	ContractID  ContractID `json:"contract_id"`
	Amount      Money      `json:"amount"`
	ToPrincipal Money      `json:"to_principal"`
	ToPenalty   Money      `json:"to_penalty"`
	Surplus     Money      `json:"surplus"`
}

type invoicePaidPayload struct {
	InvoiceID  InvoiceID  `json:"invoice_id"`
	ContractID ContractID `json:"contract_id"`
	WeeksPaid  *int       `json:"weeks_paid,omitempty"`
}

type creditNoteAppliedPayload struct {
	CreditNoteID     CreditNoteID `json:"credit_note_id"`
	InvoiceID        InvoiceID    `json:"invoice_id"`
	ContractID       ContractID   `json:"contract_id"`
	Amount           Money        `json:"amount"`
	ReversedProgress bool         `json:"reversed_progress"`
	WeeksPaid        *int         `json:"weeks_paid,omitempty"`
}
