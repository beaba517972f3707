/*
lifecycle.go - Invoice state machine

STATES (stored):
  future     generated, due date not reached yet
  pending    due, accepting payments
  paid       principal fully settled (terminal for payments)
  cancelled  reversed by a credit note (terminal)

TRANSITIONS:
  future  -> pending    time-driven; derived at read time, never needs a write
  pending -> paid       Payment Allocator, only when PaidPrincipal == Principal
  pending -> cancelled  Credit Note Reversal
  paid    -> cancelled  Credit Note Reversal

  There is no paid -> pending and no cancelled -> anything. A wrongful
  cancellation is corrected with a new invoice.

DISPLAY STATE:
  overdue is not stored. A pending invoice whose due date is before today is
  displayed as overdue but stays pending so the allocator and the penalty
  calculator treat it uniformly.
*/
package billing

// DisplayState is what screens show for an invoice.
type DisplayState string

const (
	DisplayFuture    DisplayState = "future"
	DisplayPending   DisplayState = "pending"
	DisplayOverdue   DisplayState = "overdue"
	DisplayPaid      DisplayState = "paid"
	DisplayCancelled DisplayState = "cancelled"
)

// EffectiveStatus applies the time-driven future -> pending promotion.
func EffectiveStatus(inv Invoice, today Date) Status {
	if inv.Status == StatusFuture && inv.DueDate.BeforeOrEqual(today) {
		return StatusPending
	}
	return inv.Status
}

// InitialStatus is the status a freshly generated invoice gets.
func InitialStatus(dueDate, today Date) Status {
	if dueDate.After(today) {
		return StatusFuture
	}
	return StatusPending
}

// DisplayStateOf derives the display state. This is the only place overdue
// is computed.
func DisplayStateOf(inv Invoice, today Date) DisplayState {
	switch EffectiveStatus(inv, today) {
	case StatusFuture:
		return DisplayFuture
	case StatusPending:
		if inv.DueDate.Before(today) {
			return DisplayOverdue
		}
		return DisplayPending
	case StatusPaid:
		return DisplayPaid
	default:
		return DisplayCancelled
	}
}

// CanAcceptPayment returns nil if a payment may be allocated to inv today.
func CanAcceptPayment(inv Invoice, today Date) error {
	status := EffectiveStatus(inv, today)
	var reason string
	switch status {
	case StatusPending:
		return nil
	case StatusFuture:
		reason = "invoice is not yet due"
	case StatusPaid:
		reason = "invoice already paid"
	case StatusCancelled:
		reason = "invoice is cancelled"
	default:
		reason = "unknown invoice status"
	}
	return &InvalidStateError{InvoiceID: inv.ID, Status: status, Operation: "payment", Reason: reason}
}

// CanCancel returns nil if a credit note may cancel inv today.
func CanCancel(inv Invoice, today Date) error {
	status := EffectiveStatus(inv, today)
	var reason string
	switch status {
	case StatusPending, StatusPaid:
		return nil
	case StatusFuture:
		reason = "invoice is not yet due"
	case StatusCancelled:
		reason = "invoice already cancelled"
	default:
		reason = "unknown invoice status"
	}
	return &InvalidStateError{InvoiceID: inv.ID, Status: status, Operation: "credit note", Reason: reason}
}
