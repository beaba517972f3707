package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/billing/store"
)

func seed(t *testing.T, s billing.Store) []billing.Invoice {
	t.Helper()
	ctx := context.Background()
	c := billing.Contract{
		ID:               "C1",
		ClientID:         "CL1",
		SignedOn:         billing.MustParseDate("2024-03-01"),
		PeriodStart:      billing.MustParseDate("2024-03-02"),
		WeeklyRent:       billing.MustMoney("100"),
		AdminFee:         billing.MustMoney("50"),
		TermWeeks:        3,
		DailyPenaltyRate: billing.MustMoney("5"),
	}
	require.NoError(t, s.CreateContract(ctx, c))

	invoices := billing.GenerateSchedule(c, c.SignedOn)
	for i := range invoices {
		invoices[i].Version = 1
	}
	require.NoError(t, s.CreateInvoices(ctx, invoices))
	return invoices
}

func TestMemory_Contracts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s)

	_, err := s.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, billing.ErrContractNotFound)

	err = s.CreateContract(ctx, billing.Contract{ID: "C1"})
	assert.ErrorIs(t, err, billing.ErrDuplicateContract)

	require.NoError(t, s.CreateContract(ctx, billing.Contract{ID: "C2", ClientID: "CL2"}))
	all, err := s.ListContracts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	mine, err := s.ListContracts(ctx, "CL2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, billing.ContractID("C2"), mine[0].ID)
}

func TestMemory_WeeksPaidFloor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s)

	n, err := s.AdjustWeeksPaid(ctx, "C1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.AdjustWeeksPaid(ctx, "C1", -5)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.AdjustWeeksPaid(ctx, "missing", 1)
	assert.ErrorIs(t, err, billing.ErrContractNotFound)
}

func TestMemory_MarkScheduleGenerated(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s)

	require.NoError(t, s.MarkScheduleGenerated(ctx, "C1"))
	assert.ErrorIs(t, s.MarkScheduleGenerated(ctx, "C1"), billing.ErrScheduleAlreadyGenerated)
	assert.ErrorIs(t, s.MarkScheduleGenerated(ctx, "missing"), billing.ErrContractNotFound)
}

func TestMemory_CreateInvoicesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	invoices := seed(t, s)

	fresh := invoices[0]
	fresh.ID = "C1-NEW"
	err := s.CreateInvoices(ctx, []billing.Invoice{fresh, invoices[1]})

	assert.ErrorIs(t, err, billing.ErrDuplicateInvoice)
	_, err = s.GetInvoice(ctx, "C1-NEW")
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestMemory_UpdateInvoiceVersionCheck(t *testing.T) {
	// GIVEN two readers of the same invoice
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s)
	a, err := s.GetInvoice(ctx, "C1-W001")
	require.NoError(t, err)
	b := a

	// WHEN both write
	a.Status = billing.StatusPending
	saved, err := s.UpdateInvoice(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)

	b.Status = billing.StatusCancelled
	_, err = s.UpdateInvoice(ctx, b)

	// THEN the second is rejected
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
	stored, err := s.GetInvoice(ctx, "C1-W001")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, stored.Status)

	_, err = s.UpdateInvoice(ctx, billing.Invoice{ID: "missing"})
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestMemory_ListInvoicesFilter(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s)

	all, err := s.ListInvoices(ctx, billing.InvoiceFilter{ContractID: "C1"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, inv := range all {
		assert.Equal(t, i, inv.WeekNumber)
	}

	cutoff := billing.MustParseDate("2024-03-16")
	due, err := s.ListInvoices(ctx, billing.InvoiceFilter{DueBefore: &cutoff})
	require.NoError(t, err)
	assert.Len(t, due, 3) // fee and W1 due 03-09, W2 due 03-16

	pending, err := s.ListInvoices(ctx, billing.InvoiceFilter{Statuses: []billing.Status{billing.StatusPending}})
	require.NoError(t, err)
	assert.Empty(t, pending)

	other, err := s.ListInvoices(ctx, billing.InvoiceFilter{ClientID: "other"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemory_AppendOnlyRecords(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.CreatePayment(ctx, billing.Payment{ID: "P1", InvoiceID: "I1"}))
	require.NoError(t, s.CreatePayment(ctx, billing.Payment{ID: "P2", InvoiceID: "I1"}))
	require.NoError(t, s.CreateCreditNote(ctx, billing.CreditNote{ID: "N1", InvoiceID: "I1"}))

	payments, err := s.ListPayments(ctx, "I1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, billing.PaymentID("P1"), payments[0].ID)

	// the returned slice is a copy
	payments[0].ID = "changed"
	again, err := s.ListPayments(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentID("P1"), again[0].ID)

	notes, err := s.ListCreditNotes(ctx, "I1")
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN a transaction that writes everywhere and then fails
	ctx := context.Background()
	s := store.NewTxMemory()
	seed(t, s)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx billing.Store) error {
		inv, err := tx.GetInvoice(ctx, "C1-W001")
		require.NoError(t, err)
		inv.Status = billing.StatusPaid
		_, err = tx.UpdateInvoice(ctx, inv)
		require.NoError(t, err)
		require.NoError(t, tx.CreatePayment(ctx, billing.Payment{ID: "P1", InvoiceID: "C1-W001"}))
		_, err = tx.AdjustWeeksPaid(ctx, "C1", 1)
		require.NoError(t, err)
		return boom
	})

	// THEN none of the writes survive
	require.ErrorIs(t, err, boom)
	inv, err := s.GetInvoice(ctx, "C1-W001")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusFuture, inv.Status)
	assert.Equal(t, 1, inv.Version)
	payments, err := s.ListPayments(ctx, "C1-W001")
	require.NoError(t, err)
	assert.Empty(t, payments)
	c, err := s.GetContract(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 0, c.WeeksPaid)
}

func TestTxMemory_Commit(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	seed(t, s)

	err := s.WithTx(ctx, func(tx billing.Store) error {
		_, err := tx.AdjustWeeksPaid(ctx, "C1", 1)
		return err
	})

	require.NoError(t, err)
	c, err := s.GetContract(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.WeeksPaid)
}
