package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
)

func TestContractStatement(t *testing.T) {
	// GIVEN on day 16: fee 50 and W1 overdue, W2 credited, W3 future
	f := newFixture(t)
	f.contract(t, "100", "50", 3)
	f.setToday(on(16))
	_, err := f.engine.ApplyCreditNote(context.Background(), billing.CreditNoteInput{
		InvoiceID: billing.WeeklyInvoiceID("C1", 2), Amount: amt("100"),
	})
	require.NoError(t, err)
	f.pay(t, w1, "40")

	// WHEN the statement is built
	st, err := f.engine.ContractStatement(context.Background(), "C1")

	// THEN totals skip the cancelled week and penalty is derived as of today
	require.NoError(t, err)
	assert.Equal(t, on(16), st.AsOf)
	assert.Equal(t, 3, st.TermWeeks)
	assert.Equal(t, 0, st.WeeksPaid)
	assert.Len(t, st.Invoices, 4)

	// fee 50 + W1 60 + W3 100; W1 is 8 days late at 5 per day
	assert.True(t, st.OutstandingPrincipal.Equal(amt("210")), st.OutstandingPrincipal.String())
	assert.True(t, st.OutstandingPenalty.Equal(amt("40")), st.OutstandingPenalty.String())
	assert.True(t, st.TotalDue.Equal(amt("250")))
	assert.Equal(t, 2, st.OverdueCount)
	require.NotNil(t, st.NextDue)
	assert.Equal(t, on(8), *st.NextDue)
}

func TestBuildStatement_AllSettled(t *testing.T) {
	c := billing.Contract{ID: "C1", TermWeeks: 1, WeeksPaid: 1}
	paid := billing.Invoice{
		ID:            "C1-W001",
		Kind:          billing.KindWeekly,
		WeekNumber:    1,
		DueDate:       on(8),
		Principal:     amt("100"),
		PaidPrincipal: amt("100"),
		PaidPenalty:   billing.Zero,
		Status:        billing.StatusPaid,
	}

	st := billing.BuildStatement(c, []billing.Invoice{paid}, on(30))

	assert.True(t, st.TotalDue.IsZero())
	assert.Nil(t, st.NextDue)
	assert.Zero(t, st.OverdueCount)
}

func TestContractStatement_UnknownContract(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ContractStatement(context.Background(), "missing")

	assert.ErrorIs(t, err, billing.ErrContractNotFound)
}
