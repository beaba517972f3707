package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/billing/store"
	"github.com/warp/lease-billing/events"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var signedOn = billing.MustParseDate("2024-03-01")

func on(n int) billing.Date {
	return signedOn.AddDays(n)
}

func amt(s string) billing.Money {
	return billing.MustMoney(s)
}

type fixture struct {
	engine   *billing.Engine
	store    *store.TxMemory
	recorder *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewTxMemory()
	rec := &events.Recorder{}
	eng := billing.NewEngine(s, billing.FixedClock{Day: signedOn})
	eng.Publisher = rec
	eng.Now = func() time.Time { return signedOn.Time() }
	return &fixture{engine: eng, store: s, recorder: rec}
}

func (f *fixture) setToday(d billing.Date) {
	f.engine.Clock = billing.FixedClock{Day: d}
}

// contract creates C1 and generates its schedule on signing day.
func (f *fixture) contract(t *testing.T, rent, fee string, weeks int) []billing.Invoice {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.CreateContract(ctx, billing.ContractTerms{
		ID:         "C1",
		ClientID:   "CL1",
		Number:     "LC-0001",
		SignedOn:   signedOn,
		WeeklyRent: amt(rent),
		AdminFee:   amt(fee),
		TermWeeks:  weeks,
	})
	require.NoError(t, err)
	invoices, err := f.engine.GenerateSchedule(ctx, "C1")
	require.NoError(t, err)
	return invoices
}

func (f *fixture) weeksPaid(t *testing.T) int {
	t.Helper()
	c, err := f.engine.GetContract(context.Background(), "C1")
	require.NoError(t, err)
	return c.WeeksPaid
}

func (f *fixture) pay(t *testing.T, id billing.InvoiceID, amount string) *billing.PaymentResult {
	t.Helper()
	res, err := f.engine.ApplyPayment(context.Background(), billing.PaymentInput{InvoiceID: id, Amount: amt(amount)})
	require.NoError(t, err)
	return res
}

var w1 = billing.WeeklyInvoiceID("C1", 1)

// =============================================================================
// SCHEDULE
// =============================================================================

func TestEngine_GenerateSchedule(t *testing.T) {
	f := newFixture(t)

	invoices := f.contract(t, "100", "0", 2)

	require.Len(t, invoices, 2)
	stored, err := f.engine.ListInvoices(context.Background(), billing.InvoiceQuery{ContractID: "C1"})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, on(8), stored[0].DueDate)
	assert.Equal(t, on(15), stored[1].DueDate)
	assert.Equal(t, 1, stored[0].Version)

	c, err := f.engine.GetContract(context.Background(), "C1")
	require.NoError(t, err)
	assert.True(t, c.ScheduleGenerated)
	assert.Equal(t, []string{events.TypeScheduleGenerated}, f.recorder.Types())
}

func TestEngine_GenerateScheduleTwice(t *testing.T) {
	// GIVEN a contract whose schedule exists
	f := newFixture(t)
	f.contract(t, "100", "50", 4)

	// WHEN the schedule is requested again
	_, err := f.engine.GenerateSchedule(context.Background(), "C1")

	// THEN it is refused and no invoice is duplicated
	require.ErrorIs(t, err, billing.ErrScheduleAlreadyGenerated)
	stored, err := f.engine.ListInvoices(context.Background(), billing.InvoiceQuery{ContractID: "C1"})
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestEngine_GenerateScheduleConcurrent(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateContract(context.Background(), billing.ContractTerms{
		ID: "C1", SignedOn: signedOn, WeeklyRent: amt("100"), AdminFee: billing.Zero, TermWeeks: 3,
	})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.GenerateSchedule(context.Background(), "C1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, billing.ErrScheduleAlreadyGenerated)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.store.ListInvoices(context.Background(), billing.InvoiceFilter{ContractID: "C1"})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestEngine_GenerateScheduleUnknownContract(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.GenerateSchedule(context.Background(), "nope")

	assert.ErrorIs(t, err, billing.ErrContractNotFound)
	assert.True(t, billing.IsNotFound(err))
}

func TestEngine_ZeroRentCountsAsPaid(t *testing.T) {
	f := newFixture(t)

	f.contract(t, "0", "0", 3)

	assert.Equal(t, 3, f.weeksPaid(t))
}

func TestEngine_CreateContractDuplicate(t *testing.T) {
	f := newFixture(t)
	f.contract(t, "100", "0", 1)

	_, err := f.engine.CreateContract(context.Background(), billing.ContractTerms{
		ID: "C1", SignedOn: signedOn, WeeklyRent: amt("100"), AdminFee: billing.Zero, TermWeeks: 1,
	})

	assert.ErrorIs(t, err, billing.ErrDuplicateContract)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestEngine_PartialPaymentThenSettle(t *testing.T) {
	// GIVEN week 1 is two days late (10 of penalty)
	f := newFixture(t)
	f.contract(t, "100", "0", 2)
	f.setToday(on(10))

	view, err := f.engine.GetInvoice(context.Background(), w1)
	require.NoError(t, err)
	assert.Equal(t, billing.DisplayOverdue, view.Display)
	assert.True(t, view.AccruedPenalty.Equal(amt("10")))

	// WHEN 80 then 30 is paid
	first := f.pay(t, w1, "80")
	second := f.pay(t, w1, "30")

	// THEN the first stays pending, the second settles and advances progress
	assert.True(t, first.Allocation.ToPrincipal.Equal(amt("80")))
	assert.Equal(t, billing.StatusPending, first.Invoice.Status)
	assert.Nil(t, first.Contract)

	assert.True(t, second.Allocation.ToPrincipal.Equal(amt("20")))
	assert.True(t, second.Allocation.ToPenalty.Equal(amt("10")))
	assert.True(t, second.Allocation.Surplus.IsZero())
	assert.Equal(t, billing.StatusPaid, second.Invoice.Status)
	require.NotNil(t, second.Contract)
	assert.Equal(t, 1, second.Contract.WeeksPaid)
	assert.Equal(t, 1, f.weeksPaid(t))

	payments, err := f.engine.ListPayments(context.Background(), w1)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, on(10), payments[0].Date)
	assert.True(t, payments[1].AppliedToPenalty.Equal(amt("10")))

	assert.Equal(t, []string{
		events.TypeScheduleGenerated,
		events.TypePaymentApplied,
		events.TypePaymentApplied,
		events.TypeInvoicePaid,
	}, f.recorder.Types())
}

func TestEngine_PaymentSurplus(t *testing.T) {
	f := newFixture(t)
	f.contract(t, "100", "0", 1)
	f.setToday(on(8))

	res := f.pay(t, w1, "150")

	assert.True(t, res.Allocation.ToPrincipal.Equal(amt("100")))
	assert.True(t, res.Allocation.Surplus.Equal(amt("50")))
	assert.True(t, res.Payment.Unapplied.Equal(amt("50")))
	assert.Equal(t, billing.StatusPaid, res.Invoice.Status)
}

func TestEngine_PaymentOnFutureInvoiceWritesNothing(t *testing.T) {
	// GIVEN week 1 is not yet due
	f := newFixture(t)
	f.contract(t, "100", "0", 2)
	before, err := f.store.GetInvoice(context.Background(), w1)
	require.NoError(t, err)

	// WHEN a payment is attempted
	_, err = f.engine.ApplyPayment(context.Background(), billing.PaymentInput{InvoiceID: w1, Amount: amt("100")})

	// THEN it fails and nothing changes
	require.ErrorIs(t, err, billing.ErrInvalidState)
	var se *billing.InvalidStateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invoice is not yet due", se.Reason)

	after, err := f.store.GetInvoice(context.Background(), w1)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	payments, err := f.store.ListPayments(context.Background(), w1)
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.Equal(t, 0, f.weeksPaid(t))
}

func TestEngine_PaymentValidation(t *testing.T) {
	f := newFixture(t)
	f.contract(t, "100", "0", 1)
	f.setToday(on(8))

	tests := []struct {
		name    string
		id      billing.InvoiceID
		amount  string
		wantErr error
	}{
		{"zero", w1, "0", billing.ErrInvalidAmount},
		{"negative", w1, "-10", billing.ErrInvalidAmount},
		{"above maximum", w1, "1000000.01", billing.ErrInvalidAmount},
		{"unknown invoice", "C1-W999", "10", billing.ErrInvoiceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ApplyPayment(context.Background(), billing.PaymentInput{InvoiceID: tt.id, Amount: amt(tt.amount)})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEngine_PaidInvoiceRejectsFurtherPayment(t *testing.T) {
	f := newFixture(t)
	f.contract(t, "100", "0", 1)
	f.setToday(on(8))
	f.pay(t, w1, "100")

	_, err := f.engine.ApplyPayment(context.Background(), billing.PaymentInput{InvoiceID: w1, Amount: amt("1")})

	require.ErrorIs(t, err, billing.ErrInvalidState)
	assert.Contains(t, err.Error(), "invoice already paid")
}

func TestEngine_AdminFeeDoesNotAdvanceProgress(t *testing.T) {
	f := newFixture(t)
	f.contract(t, "100", "50", 1)
	f.setToday(on(8))

	res := f.pay(t, billing.AdminFeeInvoiceID("C1"), "50")

	assert.Equal(t, billing.StatusPaid, res.Invoice.Status)
	assert.Nil(t, res.Contract)
	assert.Equal(t, 0, f.weeksPaid(t))
}

func TestEngine_ConcurrentPaymentsOnOneInvoice(t *testing.T) {
	// GIVEN a due invoice of 100
	f := newFixture(t)
	f.contract(t, "100", "0", 1)
	f.setToday(on(8))

	// WHEN ten payments of 10 race for it
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ApplyPayment(context.Background(), billing.PaymentInput{InvoiceID: w1, Amount: amt("10")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN every amount lands exactly once and progress advances once
	inv, err := f.store.GetInvoice(context.Background(), w1)
	require.NoError(t, err)
	assert.True(t, inv.PaidPrincipal.Equal(amt("100")))
	assert.Equal(t, billing.StatusPaid, inv.Status)
	assert.Equal(t, 11, inv.Version)
	assert.Equal(t, 1, f.weeksPaid(t))
}

// failingPayments fails every CreatePayment inside a transaction.
type failingPayments struct {
	*store.TxMemory
}

var errDiskFull = errors.New("disk full")

func (s failingPayments) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return s.TxMemory.WithTx(ctx, func(tx billing.Store) error {
		return fn(failOnCreatePayment{tx})
	})
}

type failOnCreatePayment struct {
	billing.Store
}

func (failOnCreatePayment) CreatePayment(context.Context, billing.Payment) error {
	return errDiskFull
}

func TestEngine_PaymentRollsBackOnStoreError(t *testing.T) {
	// GIVEN a store that fails to record payments
	f := newFixture(t)
	f.contract(t, "100", "0", 1)
	f.engine.Store = failingPayments{f.store}
	f.setToday(on(8))

	// WHEN a settling payment is applied
	_, err := f.engine.ApplyPayment(context.Background(), billing.PaymentInput{InvoiceID: w1, Amount: amt("100")})

	// THEN the invoice update is rolled back with it
	require.ErrorIs(t, err, errDiskFull)
	inv, err := f.store.GetInvoice(context.Background(), w1)
	require.NoError(t, err)
	assert.True(t, inv.PaidPrincipal.IsZero())
	assert.Equal(t, billing.StatusFuture, inv.Status)
	assert.Equal(t, 1, inv.Version)
	assert.Equal(t, 0, f.weeksPaid(t))
	assert.Equal(t, []string{events.TypeScheduleGenerated}, f.recorder.Types())
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

func TestEngine_CreditNoteOnPaidWeekReversesProgress(t *testing.T) {
	// GIVEN week 1 paid in full
	f := newFixture(t)
	f.contract(t, "100", "0", 2)
	f.setToday(on(10))
	f.pay(t, w1, "80")
	f.pay(t, w1, "30")
	require.Equal(t, 1, f.weeksPaid(t))

	// WHEN a credit note is issued against it
	res, err := f.engine.ApplyCreditNote(context.Background(), billing.CreditNoteInput{
		InvoiceID: w1, Amount: amt("100"), Reason: "vehicle returned",
	})

	// THEN it is cancelled and progress goes back to 0
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, res.Invoice.Status)
	assert.True(t, res.CreditNote.ReversedProgress)
	require.NotNil(t, res.Contract)
	assert.Equal(t, 0, res.Contract.WeeksPaid)
	assert.Equal(t, 0, f.weeksPaid(t))

	notes, err := f.engine.ListCreditNotes(context.Background(), w1)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "vehicle returned", notes[0].Reason)
	assert.Equal(t, on(10), notes[0].IssueDate)

	// AND the cancelled invoice accepts nothing further
	_, err = f.engine.ApplyPayment(context.Background(), billing.PaymentInput{InvoiceID: w1, Amount: amt("1")})
	assert.ErrorIs(t, err, billing.ErrInvalidState)
	_, err = f.engine.ApplyCreditNote(context.Background(), billing.CreditNoteInput{InvoiceID: w1, Amount: amt("1")})
	assert.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestEngine_CreditNoteOnPendingWeekKeepsProgress(t *testing.T) {
	f := newFixture(t)
	f.contract(t, "100", "0", 2)
	f.setToday(on(8))

	res, err := f.engine.ApplyCreditNote(context.Background(), billing.CreditNoteInput{InvoiceID: w1, Amount: amt("100")})

	require.NoError(t, err)
	assert.False(t, res.CreditNote.ReversedProgress)
	assert.Nil(t, res.Contract)
	assert.Equal(t, 0, f.weeksPaid(t))

	view, err := f.engine.GetInvoice(context.Background(), w1)
	require.NoError(t, err)
	assert.True(t, view.TotalDue.IsZero())
	assert.Equal(t, billing.DisplayCancelled, view.Display)
}

func TestEngine_CreditNoteFloorsWeeksPaidAtZero(t *testing.T) {
	// GIVEN a paid week whose contract counter was already reset out of band
	f := newFixture(t)
	f.contract(t, "100", "0", 1)
	f.setToday(on(8))
	f.pay(t, w1, "100")
	_, err := f.store.AdjustWeeksPaid(context.Background(), "C1", -5)
	require.NoError(t, err)

	// WHEN the paid week is credited
	_, err = f.engine.ApplyCreditNote(context.Background(), billing.CreditNoteInput{InvoiceID: w1, Amount: amt("100")})

	// THEN weeksPaid stays at zero
	require.NoError(t, err)
	assert.Equal(t, 0, f.weeksPaid(t))
}

func TestEngine_CreditNoteOnFutureInvoice(t *testing.T) {
	f := newFixture(t)
	f.contract(t, "100", "0", 2)

	_, err := f.engine.ApplyCreditNote(context.Background(), billing.CreditNoteInput{InvoiceID: w1, Amount: amt("100")})

	assert.ErrorIs(t, err, billing.ErrInvalidState)
}

// =============================================================================
// READS & HOUSEKEEPING
// =============================================================================

func TestEngine_ListInvoicesByDisplayState(t *testing.T) {
	// GIVEN four weeks on day 16: W1 and W2 due, W2 paid, W3 and W4 future
	f := newFixture(t)
	f.contract(t, "100", "0", 4)
	f.setToday(on(16))
	f.pay(t, billing.WeeklyInvoiceID("C1", 2), "100")

	ids := func(q billing.InvoiceQuery) []billing.InvoiceID {
		views, err := f.engine.ListInvoices(context.Background(), q)
		require.NoError(t, err)
		out := make([]billing.InvoiceID, 0, len(views))
		for _, v := range views {
			out = append(out, v.ID)
		}
		return out
	}

	assert.Equal(t, []billing.InvoiceID{"C1-W001"}, ids(billing.InvoiceQuery{States: []billing.DisplayState{billing.DisplayOverdue}}))
	assert.Equal(t, []billing.InvoiceID{"C1-W001"}, ids(billing.InvoiceQuery{States: []billing.DisplayState{billing.DisplayPending}}))
	assert.Equal(t, []billing.InvoiceID{"C1-W002"}, ids(billing.InvoiceQuery{States: []billing.DisplayState{billing.DisplayPaid}}))
	assert.Equal(t, []billing.InvoiceID{"C1-W003", "C1-W004"}, ids(billing.InvoiceQuery{States: []billing.DisplayState{billing.DisplayFuture}}))
	assert.Len(t, ids(billing.InvoiceQuery{ClientID: "CL1"}), 4)
	assert.Empty(t, ids(billing.InvoiceQuery{ClientID: "other"}))
}

func TestEngine_PromoteDueInvoices(t *testing.T) {
	f := newFixture(t)
	f.contract(t, "100", "50", 3)
	f.setToday(on(15))

	n, err := f.engine.PromoteDueInvoices(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n) // admin fee, W1, W2
	stored, err := f.store.ListInvoices(context.Background(), billing.InvoiceFilter{
		ContractID: "C1",
		Statuses:   []billing.Status{billing.StatusPending},
	})
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	again, err := f.engine.PromoteDueInvoices(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestEngine_PublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.engine.Publisher = brokenPublisher{}

	invoices := f.contract(t, "100", "0", 1)

	assert.Len(t, invoices, 1)
}

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, ...events.Event) error {
	return errors.New("broker unavailable")
}
