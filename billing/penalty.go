package billing

// =============================================================================
// PENALTY CALCULATOR - The single source of truth for late fees
// =============================================================================

// Accrued penalty is never stored. Only PaidPenalty is persisted; the total
// is recomputed from the due date so it keeps growing between payments
// without a background job.

// DaysLate returns how many days past the due date asOf is (0 if not late).
func DaysLate(inv Invoice, asOf Date) int {
	if asOf.BeforeOrEqual(inv.DueDate) {
		return 0
	}
	return DaysBetween(inv.DueDate, asOf)
}

// AccruedPenalty returns the total late fee accrued on inv as of asOf.
// Zero for admin-fee invoices, for invoices that are not pending, and on or
// before the due date.
func AccruedPenalty(inv Invoice, asOf Date) Money {
	if inv.Kind == KindAdminFee {
		return Zero
	}
	if EffectiveStatus(inv, asOf) != StatusPending {
		return Zero
	}
	days := DaysLate(inv, asOf)
	if days <= 0 {
		return Zero
	}
	return inv.DailyPenaltyRate.MulInt(days)
}

// OutstandingPenalty is the accrued penalty not yet paid, never negative.
func OutstandingPenalty(inv Invoice, asOf Date) Money {
	return AccruedPenalty(inv, asOf).Sub(inv.PaidPenalty).Max(Zero)
}
