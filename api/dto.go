/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND DATES:
  Amounts are JSON strings with exact decimal text ("100.00"); requests
  accept strings or numbers. Calendar days are "YYYY-MM-DD".

TYPES:
  Contract:    ContractDTO (create body is factory.ContractJSON)
  Invoice:     InvoiceDTO, ScheduleResponse
  Payment:     PaymentRequest, PaymentDTO, AllocationDTO, PaymentResponse
  Credit note: CreditNoteRequest, CreditNoteDTO, CreditNoteResponse
  Statement:   StatementDTO
  Scenarios:   ScenarioDTO, LoadScenarioRequest, ScenarioResult

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/contract.go: ContractJSON type
*/
package api

import (
	"time"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	ID                string        `json:"id"`
	ClientID          string        `json:"client_id"`
	Number            string        `json:"number,omitempty"`
	SignedOn          string        `json:"signed_on"`
	PeriodStart       string        `json:"period_start"`
	WeeklyRent        billing.Money `json:"weekly_rent"`
	AdminFee          billing.Money `json:"admin_fee"`
	TermWeeks         int           `json:"term_weeks"`
	DailyPenaltyRate  billing.Money `json:"daily_penalty_rate"`
	WeeksPaid         int           `json:"weeks_paid"`
	ScheduleGenerated bool          `json:"schedule_generated"`
	CreatedAt         time.Time     `json:"created_at"`
}

func toContractDTO(c billing.Contract) ContractDTO {
	return ContractDTO{
		ID:                string(c.ID),
		ClientID:          string(c.ClientID),
		Number:            c.Number,
		SignedOn:          c.SignedOn.String(),
		PeriodStart:       c.PeriodStart.String(),
		WeeklyRent:        c.WeeklyRent,
		AdminFee:          c.AdminFee,
		TermWeeks:         c.TermWeeks,
		DailyPenaltyRate:  c.DailyPenaltyRate,
		WeeksPaid:         c.WeeksPaid,
		ScheduleGenerated: c.ScheduleGenerated,
		CreatedAt:         c.CreatedAt,
	}
}

// =============================================================================
// INVOICES
// =============================================================================

// InvoiceDTO represents an invoice with its derived state.
type InvoiceDTO struct {
	ID          string `json:"id"`
	Number      string `json:"number"`
	ContractID  string `json:"contract_id"`
	ClientID    string `json:"client_id"`
	Kind        string `json:"kind"`
	WeekNumber  int    `json:"week_number"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	DueDate     string `json:"due_date"`

	Principal        billing.Money `json:"principal"`
	PaidPrincipal    billing.Money `json:"paid_principal"`
	PaidPenalty      billing.Money `json:"paid_penalty"`
	DailyPenaltyRate billing.Money `json:"daily_penalty_rate"`

	// Status is the effective lifecycle status; DisplayStatus adds overdue.
	Status        string `json:"status"`
	DisplayStatus string `json:"display_status"`

	DaysLate             int           `json:"days_late"`
	AccruedPenalty       billing.Money `json:"accrued_penalty"`
	OutstandingPenalty   billing.Money `json:"outstanding_penalty"`
	OutstandingPrincipal billing.Money `json:"outstanding_principal"`
	TotalDue             billing.Money `json:"total_due"`

	Version int `json:"version"`
}

func toInvoiceDTO(v billing.InvoiceView) InvoiceDTO {
	return InvoiceDTO{
		ID:                   string(v.ID),
		Number:               v.Number,
		ContractID:           string(v.ContractID),
		ClientID:             string(v.ClientID),
		Kind:                 string(v.Kind),
		WeekNumber:           v.WeekNumber,
		PeriodStart:          v.PeriodStart.String(),
		PeriodEnd:            v.PeriodEnd.String(),
		DueDate:              v.DueDate.String(),
		Principal:            v.Principal,
		PaidPrincipal:        v.PaidPrincipal,
		PaidPenalty:          v.PaidPenalty,
		DailyPenaltyRate:     v.DailyPenaltyRate,
		Status:               string(v.EffectiveStatus),
		DisplayStatus:        string(v.Display),
		DaysLate:             v.DaysLate,
		AccruedPenalty:       v.AccruedPenalty,
		OutstandingPenalty:   v.OutstandingPenalty,
		OutstandingPrincipal: v.OutstandingPrincipal,
		TotalDue:             v.TotalDue,
		Version:              v.Version,
	}
}

func toInvoiceDTOs(views []billing.InvoiceView) []InvoiceDTO {
	out := make([]InvoiceDTO, len(views))
	for i, v := range views {
		out[i] = toInvoiceDTO(v)
	}
	return out
}

// ScheduleResponse is returned after generating a contract's schedule.
type ScheduleResponse struct {
	ContractID string       `json:"contract_id"`
	Invoices   []InvoiceDTO `json:"invoices"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentRequest is the body of POST /api/invoices/{id}/payments.
type PaymentRequest struct {
	Amount    billing.Money `json:"amount"`
	Method    string        `json:"method,omitempty"`
	Reference string        `json:"reference,omitempty"`
}

// PaymentDTO represents a recorded payment.
type PaymentDTO struct {
	ID                 string        `json:"id"`
	InvoiceID          string        `json:"invoice_id"`
	ContractID         string        `json:"contract_id"`
	Amount             billing.Money `json:"amount"`
	Date               string        `json:"date"`
	Method             string        `json:"method,omitempty"`
	Reference          string        `json:"reference,omitempty"`
	AppliedToPrincipal billing.Money `json:"applied_to_principal"`
	AppliedToPenalty   billing.Money `json:"applied_to_penalty"`
	Unapplied          billing.Money `json:"unapplied"`
	CreatedAt          time.Time     `json:"created_at"`
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                 string(p.ID),
		InvoiceID:          string(p.InvoiceID),
		ContractID:         string(p.ContractID),
		Amount:             p.Amount,
		Date:               p.Date.String(),
		Method:             p.Method,
		Reference:          p.Reference,
		AppliedToPrincipal: p.AppliedToPrincipal,
		AppliedToPenalty:   p.AppliedToPenalty,
		Unapplied:          p.Unapplied,
		CreatedAt:          p.CreatedAt,
	}
}

// AllocationDTO is the waterfall split of one payment.
type AllocationDTO struct {
	ToPrincipal billing.Money `json:"to_principal"`
	ToPenalty   billing.Money `json:"to_penalty"`
	Surplus     billing.Money `json:"surplus"`
	Settled     bool          `json:"settled"`
}

// PaymentResponse is returned after applying a payment.
type PaymentResponse struct {
	Payment    PaymentDTO    `json:"payment"`
	Invoice    InvoiceDTO    `json:"invoice"`
	Allocation AllocationDTO `json:"allocation"`
	WeeksPaid  *int          `json:"weeks_paid,omitempty"`
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

// CreditNoteRequest is the body of POST /api/invoices/{id}/credit-notes.
type CreditNoteRequest struct {
	Amount billing.Money `json:"amount"`
	Reason string        `json:"reason"`
}

// CreditNoteDTO represents an issued credit note.
type CreditNoteDTO struct {
	ID               string        `json:"id"`
	InvoiceID        string        `json:"invoice_id"`
	ContractID       string        `json:"contract_id"`
	Amount           billing.Money `json:"amount"`
	Reason           string        `json:"reason,omitempty"`
	IssueDate        string        `json:"issue_date"`
	ReversedProgress bool          `json:"reversed_progress"`
	CreatedAt        time.Time     `json:"created_at"`
}

func toCreditNoteDTO(cn billing.CreditNote) CreditNoteDTO {
	return CreditNoteDTO{
		ID:               string(cn.ID),
		InvoiceID:        string(cn.InvoiceID),
		ContractID:       string(cn.ContractID),
		Amount:           cn.Amount,
		Reason:           cn.Reason,
		IssueDate:        cn.IssueDate.String(),
		ReversedProgress: cn.ReversedProgress,
		CreatedAt:        cn.CreatedAt,
	}
}

// CreditNoteResponse is returned after applying a credit note.
type CreditNoteResponse struct {
	CreditNote CreditNoteDTO `json:"credit_note"`
	Invoice    InvoiceDTO    `json:"invoice"`
	WeeksPaid  *int          `json:"weeks_paid,omitempty"`
}

// =============================================================================
// STATEMENT
// =============================================================================

// StatementDTO is a contract's billing position.
type StatementDTO struct {
	ContractID           string        `json:"contract_id"`
	ClientID             string        `json:"client_id"`
	AsOf                 string        `json:"as_of"`
	TermWeeks            int           `json:"term_weeks"`
	WeeksPaid            int           `json:"weeks_paid"`
	OutstandingPrincipal billing.Money `json:"outstanding_principal"`
	OutstandingPenalty   billing.Money `json:"outstanding_penalty"`
	TotalDue             billing.Money `json:"total_due"`
	OverdueCount         int           `json:"overdue_count"`
	NextDue              string        `json:"next_due,omitempty"`
	Invoices             []InvoiceDTO  `json:"invoices"`
}

func toStatementDTO(st billing.Statement) StatementDTO {
	dto := StatementDTO{
		ContractID:           string(st.ContractID),
		ClientID:             string(st.ClientID),
		AsOf:                 st.AsOf.String(),
		TermWeeks:            st.TermWeeks,
		WeeksPaid:            st.WeeksPaid,
		OutstandingPrincipal: st.OutstandingPrincipal,
		OutstandingPenalty:   st.OutstandingPenalty,
		TotalDue:             st.TotalDue,
		OverdueCount:         st.OverdueCount,
		Invoices:             toInvoiceDTOs(st.Invoices),
	}
	if st.NextDue != nil {
		dto.NextDue = st.NextDue.String()
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioResult is the demo contract's statement right after loading.
type ScenarioResult struct {
	Scenario  string       `json:"scenario"`
	Statement StatementDTO `json:"statement"`
}
