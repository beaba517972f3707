/*
schedule.go - Contract terms -> ordered invoice schedule

LAYOUT (contract.PeriodStart = P):
  admin fee (if > 0)  period [P, P]              due P + 7
  week s (1..term)    period [P+7(s-1), P+7s-1]  due P + 7s

  Periods are contiguous and never overlap. Each due date is the day after
  the period ends, which gives every week a seven-day grace window.

NUMBERING:
  IDs are stable and unique per contract so downstream systems can address
  one installment: <contract>-ADM and <contract>-W001 .. -W<term>.
  Display numbers use the contract number: <number>-000, <number>-001, ...

ZERO RENT:
  A weekly invoice with zero principal is settled the moment it exists, so it
  is generated as paid and counts toward weeksPaid.

GenerateSchedule is pure and deterministic. It does not detect repeated
calls; the engine guards that with the contract's ScheduleGenerated flag.
*/
package billing

import (
	"fmt"
	"time"
)

const daysPerWeek = 7

// MaxTermWeeks bounds a contract's term (ten years of weekly invoices).
const MaxTermWeeks = 520

// GenerateSchedule expands contract terms into invoices. Initial status is
// future when the due date is after today, otherwise pending.
func GenerateSchedule(c Contract, today Date) []Invoice {
	invoices := make([]Invoice, 0, c.TermWeeks+1)

	if c.AdminFee.IsPositive() {
		due := c.PeriodStart.AddDays(daysPerWeek)
		invoices = append(invoices, Invoice{
			ID:               AdminFeeInvoiceID(c.ID),
			Number:           invoiceNumber(c, 0),
			ContractID:       c.ID,
			ClientID:         c.ClientID,
			Kind:             KindAdminFee,
			WeekNumber:       0,
			PeriodStart:      c.PeriodStart,
			PeriodEnd:        c.PeriodStart,
			DueDate:          due,
			Principal:        c.AdminFee,
			PaidPrincipal:    Zero,
			PaidPenalty:      Zero,
			DailyPenaltyRate: c.DailyPenaltyRate,
			Status:           InitialStatus(due, today),
		})
	}

	for s := 1; s <= c.TermWeeks; s++ {
		due := c.PeriodStart.AddDays(s * daysPerWeek)
		invoices = append(invoices, Invoice{
			ID:               WeeklyInvoiceID(c.ID, s),
			Number:           invoiceNumber(c, s),
			ContractID:       c.ID,
			ClientID:         c.ClientID,
			Kind:             KindWeekly,
			WeekNumber:       s,
			PeriodStart:      c.PeriodStart.AddDays((s - 1) * daysPerWeek),
			PeriodEnd:        c.PeriodStart.AddDays(s*daysPerWeek - 1),
			DueDate:          due,
			Principal:        c.WeeklyRent,
			PaidPrincipal:    Zero,
			PaidPenalty:      Zero,
			DailyPenaltyRate: c.DailyPenaltyRate,
			Status:           weeklyStatus(c.WeeklyRent, due, today),
		})
	}

	return invoices
}

func weeklyStatus(principal Money, due, today Date) Status {
	if principal.IsZero() {
		return StatusPaid
	}
	return InitialStatus(due, today)
}

// SettledWeeks counts weekly invoices that are already paid.
func SettledWeeks(invoices []Invoice) int {
	n := 0
	for _, inv := range invoices {
		if inv.Kind == KindWeekly && inv.Status == StatusPaid {
			n++
		}
	}
	return n
}

// AdminFeeInvoiceID is the ID of a contract's admin-fee invoice.
func AdminFeeInvoiceID(contractID ContractID) InvoiceID {
	return InvoiceID(fmt.Sprintf("%s-ADM", contractID))
}

// WeeklyInvoiceID is the ID of week s of a contract.
func WeeklyInvoiceID(contractID ContractID, week int) InvoiceID {
	return InvoiceID(fmt.Sprintf("%s-W%03d", contractID, week))
}

func invoiceNumber(c Contract, week int) string {
	prefix := c.Number
	if prefix == "" {
		prefix = string(c.ID)
	}
	return fmt.Sprintf("%s-%03d", prefix, week)
}

// =============================================================================
// CONTRACT TERMS
// =============================================================================

// ContractTerms is the input to CreateContract. A nil DailyPenaltyRate means
// "use the engine default".
type ContractTerms struct {
	ID               ContractID
	ClientID         ClientID
	Number           string
	SignedOn         Date
	WeeklyRent       Money
	AdminFee         Money
	TermWeeks        int
	DailyPenaltyRate *Money
}

// NewContract validates terms and builds the contract. The first week
// starts the day after signing.
func NewContract(terms ContractTerms, defaultPenaltyRate Money, now time.Time) (Contract, error) {
	if terms.ID == "" {
		return Contract{}, &ContractError{Field: "id", Reason: "is required"}
	}
	if terms.SignedOn.IsZero() {
		return Contract{}, &ContractError{Field: "signed_on", Reason: "is required"}
	}
	if terms.TermWeeks <= 0 {
		return Contract{}, &ContractError{Field: "term_weeks", Reason: "must be positive"}
	}
	if terms.TermWeeks > MaxTermWeeks {
		return Contract{}, &ContractError{Field: "term_weeks", Reason: fmt.Sprintf("must not exceed %d", MaxTermWeeks)}
	}
	if terms.WeeklyRent.IsNegative() {
		return Contract{}, &ContractError{Field: "weekly_rent", Reason: "must not be negative"}
	}
	if terms.AdminFee.IsNegative() {
		return Contract{}, &ContractError{Field: "admin_fee", Reason: "must not be negative"}
	}

	rate := defaultPenaltyRate
	if terms.DailyPenaltyRate != nil {
		rate = *terms.DailyPenaltyRate
	}
	if rate.IsNegative() {
		return Contract{}, &ContractError{Field: "daily_penalty_rate", Reason: "must not be negative"}
	}

	return Contract{
		ID:               terms.ID,
		ClientID:         terms.ClientID,
		Number:           terms.Number,
		SignedOn:         terms.SignedOn,
		PeriodStart:      terms.SignedOn.AddDays(1),
		WeeklyRent:       terms.WeeklyRent,
		AdminFee:         terms.AdminFee,
		TermWeeks:        terms.TermWeeks,
		DailyPenaltyRate: rate,
		CreatedAt:        now,
	}, nil
}
