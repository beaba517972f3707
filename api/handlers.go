/*
handlers.go - HTTP API handlers for the lease billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to billing.Engine.

ENDPOINTS:
  Contracts:
    POST   /api/contracts                     Create contract from JSON terms
    GET    /api/contracts                     List contracts (?client_id=)
    GET    /api/contracts/{id}                Get contract
    POST   /api/contracts/{id}/schedule       Generate invoice schedule (once)
    GET    /api/contracts/{id}/statement      Billing position as of today

  Invoices:
    GET    /api/invoices                      List (?contract_id=&client_id=&status=)
    GET    /api/invoices/{id}                 Get invoice with derived penalty
    POST   /api/invoices/{id}/payments        Apply payment
    GET    /api/invoices/{id}/payments        Payment history
    POST   /api/invoices/{id}/credit-notes    Apply credit note (cancels invoice)
    GET    /api/invoices/{id}/credit-notes    Credit note history

  Scenarios (demo data):
    GET    /api/scenarios                     List scenarios
    POST   /api/scenarios/load                Load a scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the engine (validation happens there)
  3. Serialize response
  4. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: invalid amount, malformed contract terms, bad JSON
  - 404: contract or invoice not found
  - 409: invalid invoice state, schedule already generated,
         concurrent modification, duplicate contract
  - 500: internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind the back-office gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *billing.Engine
	Contracts *factory.ContractFactory
	Metrics   *Metrics

	// Ping reports store health for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// NewHandler creates a new handler around an engine.
func NewHandler(engine *billing.Engine) *Handler {
	return &Handler{
		Engine:    engine,
		Contracts: factory.NewContractFactory(engine.Limits.DefaultDailyPenaltyRate),
		Metrics:   NewMetrics(),
	}
}

// =============================================================================
// CONTRACT ENDPOINTS
// =============================================================================

// CreateContract handles POST /api/contracts
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	terms, err := h.Contracts.ParseTerms(string(body))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidContract) {
			h.writeEngineError(w, "create_contract", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid contract JSON", err)
		return
	}

	c, err := h.Engine.CreateContract(r.Context(), terms)
	if err != nil {
		h.writeEngineError(w, "create_contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(c))
}

// ListContracts handles GET /api/contracts
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	clientID := billing.ClientID(r.URL.Query().Get("client_id"))
	contracts, err := h.Engine.Store.ListContracts(r.Context(), clientID)
	if err != nil {
		h.writeEngineError(w, "list_contracts", err)
		return
	}
	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetContract handles GET /api/contracts/{id}
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := billing.ContractID(chi.URLParam(r, "id"))
	c, err := h.Engine.GetContract(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "get_contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(c))
}

// GenerateSchedule handles POST /api/contracts/{id}/schedule
func (h *Handler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	id := billing.ContractID(chi.URLParam(r, "id"))
	invoices, err := h.Engine.GenerateSchedule(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "generate_schedule", err)
		return
	}
	h.Metrics.SchedulesGenerated.Inc()

	today := h.Engine.Clock.Today()
	views := make([]billing.InvoiceView, len(invoices))
	for i, inv := range invoices {
		views[i] = billing.ViewOf(inv, today)
	}
	writeJSON(w, http.StatusCreated, ScheduleResponse{
		ContractID: string(id),
		Invoices:   toInvoiceDTOs(views),
	})
}

// GetStatement handles GET /api/contracts/{id}/statement
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := billing.ContractID(chi.URLParam(r, "id"))
	st, err := h.Engine.ContractStatement(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// =============================================================================
// INVOICE ENDPOINTS
// =============================================================================

// ListInvoices handles GET /api/invoices
//
// status may be repeated or comma-separated and accepts the derived
// "overdue" state alongside future, pending, paid and cancelled.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := billing.InvoiceQuery{
		ContractID: billing.ContractID(query.Get("contract_id")),
		ClientID:   billing.ClientID(query.Get("client_id")),
	}
	for _, raw := range query["status"] {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(strings.ToLower(s))
			if s == "" {
				continue
			}
			state, ok := parseDisplayState(s)
			if !ok {
				writeError(w, http.StatusBadRequest, "Invalid status filter", fmt.Errorf("unknown status %q", s))
				return
			}
			q.States = append(q.States, state)
		}
	}

	views, err := h.Engine.ListInvoices(r.Context(), q)
	if err != nil {
		h.writeEngineError(w, "list_invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(views))
}

// GetInvoice handles GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	v, err := h.Engine.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "get_invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(v))
}

// ApplyPayment handles POST /api/invoices/{id}/payments
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Engine.ApplyPayment(r.Context(), billing.PaymentInput{
		InvoiceID: id,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
	})
	if err != nil {
		h.writeEngineError(w, "apply_payment", err)
		return
	}
	h.Metrics.ObservePayment(res)

	resp := PaymentResponse{
		Payment: toPaymentDTO(res.Payment),
		Invoice: toInvoiceDTO(billing.ViewOf(res.Invoice, res.Payment.Date)),
		Allocation: AllocationDTO{
			ToPrincipal: res.Allocation.ToPrincipal,
			ToPenalty:   res.Allocation.ToPenalty,
			Surplus:     res.Allocation.Surplus,
			Settled:     res.Allocation.Settled,
		},
	}
	if res.Contract != nil {
		weeks := res.Contract.WeeksPaid
		resp.WeeksPaid = &weeks
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListPayments handles GET /api/invoices/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	payments, err := h.Engine.ListPayments(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "list_payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyCreditNote handles POST /api/invoices/{id}/credit-notes
func (h *Handler) ApplyCreditNote(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req CreditNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Engine.ApplyCreditNote(r.Context(), billing.CreditNoteInput{
		InvoiceID: id,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeEngineError(w, "apply_credit_note", err)
		return
	}
	h.Metrics.ObserveCreditNote(res)

	resp := CreditNoteResponse{
		CreditNote: toCreditNoteDTO(res.CreditNote),
		Invoice:    toInvoiceDTO(billing.ViewOf(res.Invoice, res.CreditNote.IssueDate)),
	}
	if res.Contract != nil {
		weeks := res.Contract.WeeksPaid
		resp.WeeksPaid = &weeks
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListCreditNotes handles GET /api/invoices/{id}/credit-notes
func (h *Handler) ListCreditNotes(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	notes, err := h.Engine.ListCreditNotes(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "list_credit_notes", err)
		return
	}
	dtos := make([]CreditNoteDTO, len(notes))
	for i, cn := range notes {
		dtos[i] = toCreditNoteDTO(cn)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDisplayState(s string) (billing.DisplayState, bool) {
	switch state := billing.DisplayState(s); state {
	case billing.DisplayFuture, billing.DisplayPending, billing.DisplayOverdue,
		billing.DisplayPaid, billing.DisplayCancelled:
		return state, true
	}
	return "", false
}

// writeEngineError maps billing errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, operation string, err error) {
	if h.Metrics != nil {
		h.Metrics.ObserveError(operation, err)
	}

	var stateErr *billing.InvalidStateError
	switch {
	case errors.Is(err, billing.ErrInvalidAmount):
		writeCodedError(w, http.StatusBadRequest, "invalid_amount", err)
	case errors.Is(err, billing.ErrInvalidContract):
		writeCodedError(w, http.StatusBadRequest, "invalid_contract", err)
	case errors.Is(err, billing.ErrNotFound):
		writeCodedError(w, http.StatusNotFound, "not_found", err)
	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   stateErr.Reason,
			Code:    "invalid_state",
			Details: err.Error(),
		})
	case errors.Is(err, billing.ErrScheduleAlreadyGenerated):
		writeCodedError(w, http.StatusConflict, "schedule_already_generated", err)
	case errors.Is(err, billing.ErrConcurrentModification):
		writeCodedError(w, http.StatusConflict, "concurrent_modification", err)
	case errors.Is(err, billing.ErrDuplicateContract), errors.Is(err, billing.ErrDuplicateInvoice):
		writeCodedError(w, http.StatusConflict, "duplicate", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeCodedError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
