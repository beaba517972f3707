/*
allocation.go - Payment waterfall

ORDER (strict):
  1. outstandingPrincipal = principal - paidPrincipal
  2. toPrincipal = min(amount, outstandingPrincipal)
  3. outstandingPenalty = max(0, accrued(asOf) - paidPenalty)
  4. toPenalty = min(amount - toPrincipal, outstandingPenalty)
  5. surplus = whatever is left; reported, never absorbed

  The invoice becomes paid only when paidPrincipal reaches principal exactly.
  A partial payment never flips the status, even if it clears penalty.

EXAMPLE:
  principal 100, accrued penalty 10
  pay 80  -> principal 80, penalty 0,  pending
  pay 30  -> principal 20, penalty 10, paid
*/
package billing

// Allocation is the split of one payment amount.
type Allocation struct {
	Amount      Money
	ToPrincipal Money
	ToPenalty   Money
	Surplus     Money
	// Settled is true when this payment cleared the remaining principal.
	Settled bool
}

// Allocate runs the waterfall against inv as of asOf and returns the split
// together with the updated invoice. inv itself is not modified. On error
// nothing is allocated.
func Allocate(inv Invoice, amount Money, asOf Date) (Allocation, Invoice, error) {
	if !amount.IsPositive() {
		return Allocation{}, inv, &InvalidAmountError{Amount: amount, Reason: "payment amount must be positive"}
	}
	if err := CanAcceptPayment(inv, asOf); err != nil {
		return Allocation{}, inv, err
	}

	outstandingPrincipal := inv.OutstandingPrincipal()
	toPrincipal := amount.Min(outstandingPrincipal)
	remaining := amount.Sub(toPrincipal)

	outstandingPenalty := OutstandingPenalty(inv, asOf)
	toPenalty := remaining.Min(outstandingPenalty)
	surplus := remaining.Sub(toPenalty)

	updated := inv
	updated.Status = EffectiveStatus(inv, asOf)
	updated.PaidPrincipal = inv.PaidPrincipal.Add(toPrincipal)
	updated.PaidPenalty = inv.PaidPenalty.Add(toPenalty)

	settled := updated.PaidPrincipal.Equal(updated.Principal)
	if settled {
		updated.Status = StatusPaid
	}

	return Allocation{
		Amount:      amount,
		ToPrincipal: toPrincipal,
		ToPenalty:   toPenalty,
		Surplus:     surplus,
		Settled:     settled,
	}, updated, nil
}

// CountsTowardProgress reports whether settling inv advances weeksPaid.
func CountsTowardProgress(inv Invoice) bool {
	return inv.Kind == KindWeekly
}
