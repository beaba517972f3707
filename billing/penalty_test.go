package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccruedPenalty_ByDay(t *testing.T) {
	// GIVEN week 1 due on day 8 at 5 per day
	inv := weeklyInvoice("100", day(8), StatusFuture)

	tests := []struct {
		name  string
		today Date
		want  string
	}{
		{"before due", day(5), "0"},
		{"on due date", day(8), "0"},
		{"one day late", day(9), "5"},
		{"two days late", day(10), "10"},
		{"three weeks late", day(29), "105"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AccruedPenalty(inv, tt.today)
			assert.True(t, got.Equal(money(tt.want)), "got %s", got)
		})
	}
}

func TestAccruedPenalty_LongOverdue(t *testing.T) {
	inv := weeklyInvoice("100", MustParseDate("1700-01-01"), StatusPending)

	got := AccruedPenalty(inv, MustParseDate("2024-01-01"))

	// 118338 days at 5
	assert.True(t, got.Equal(money("591690")), "got %s", got)
}

func TestAccruedPenalty_Exclusions(t *testing.T) {
	late := day(20)

	fee := weeklyInvoice("50", day(8), StatusPending)
	fee.Kind = KindAdminFee
	assert.True(t, AccruedPenalty(fee, late).IsZero(), "admin fee")

	paid := weeklyInvoice("100", day(8), StatusPaid)
	paid.PaidPrincipal = money("100")
	assert.True(t, AccruedPenalty(paid, late).IsZero(), "paid")

	cancelled := weeklyInvoice("100", day(8), StatusCancelled)
	assert.True(t, AccruedPenalty(cancelled, late).IsZero(), "cancelled")

	zeroRate := weeklyInvoice("100", day(8), StatusPending)
	zeroRate.DailyPenaltyRate = Zero
	assert.True(t, AccruedPenalty(zeroRate, late).IsZero(), "zero rate")
}

func TestAccruedPenalty_GrowsMonotonically(t *testing.T) {
	inv := weeklyInvoice("100", day(8), StatusPending)

	prev := Zero
	for d := 0; d <= 60; d++ {
		cur := AccruedPenalty(inv, day(d))
		assert.False(t, cur.LessThan(prev), "day %d", d)
		prev = cur
	}
}

func TestOutstandingPenalty(t *testing.T) {
	inv := weeklyInvoice("100", day(8), StatusPending)
	inv.PaidPenalty = money("10")

	assert.True(t, OutstandingPenalty(inv, day(10)).IsZero())
	assert.True(t, OutstandingPenalty(inv, day(12)).Equal(money("10")))
	// never negative even if more was paid than has accrued
	assert.True(t, OutstandingPenalty(inv, day(9)).IsZero())
}

func TestDaysLate(t *testing.T) {
	inv := weeklyInvoice("100", day(8), StatusPending)

	assert.Equal(t, 0, DaysLate(inv, day(1)))
	assert.Equal(t, 0, DaysLate(inv, day(8)))
	assert.Equal(t, 2, DaysLate(inv, day(10)))
}
