package billing

// =============================================================================
// CREDIT NOTE REVERSAL
// =============================================================================

// Cancel moves inv to cancelled. wasPaid reports whether the invoice had been
// fully paid, in which case a weekly invoice's contract progress must be
// reversed. inv itself is not modified.
func Cancel(inv Invoice, today Date) (updated Invoice, wasPaid bool, err error) {
	if err := CanCancel(inv, today); err != nil {
		return inv, false, err
	}
	wasPaid = EffectiveStatus(inv, today) == StatusPaid
	updated = inv
	updated.Status = StatusCancelled
	return updated, wasPaid, nil
}

// ReversesProgress reports whether cancelling inv decrements weeksPaid.
func ReversesProgress(inv Invoice, wasPaid bool) bool {
	return wasPaid && inv.Kind == KindWeekly
}

// FloorWeeksPaid applies a delta to weeksPaid without going below zero.
func FloorWeeksPaid(current, delta int) int {
	next := current + delta
	if next < 0 {
		return 0
	}
	return next
}
