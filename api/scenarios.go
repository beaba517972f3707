/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	contracts for back-office demos. Each scenario signs a contract in the
	past relative to the engine's today, generates its schedule, and then
	applies payments and credit notes through the engine exactly as the API
	would.

AVAILABLE SCENARIOS:

	on-time-tenant:  every due week paid in full
	late-payer:      partial payments, overdue weeks with penalty accruing
	credited-week:   a paid week cancelled by a credit note
	zero-rent:       promotional contract billing only the admin fee

HOW SCENARIOS WORK:
 1. Create the contract DEMO-<scenario> signed N weeks before today
 2. Generate the schedule
 3. Apply the scenario's payments and credit notes as of today

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "late-payer"}

NOTE:

	Scenarios never reset the store. Loading one twice returns 409 because
	the contract already exists.

SEE ALSO:
  - handlers.go: error mapping
  - billing/engine.go: the operations each loader calls
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "on-time-tenant",
		Name:        "On-Time Tenant",
		Description: "12-week lease signed 6 weeks ago, every due week paid in full",
	},
	{
		ID:          "late-payer",
		Name:        "Late Payer",
		Description: "Partial payments on week 1, weeks 2-4 overdue and accruing penalty",
	},
	{
		ID:          "credited-week",
		Name:        "Credited Week",
		Description: "Weeks 1-2 paid, then week 1 cancelled by a credit note; weeks paid drops to 1",
	},
	{
		ID:          "zero-rent",
		Name:        "Zero Rent Promotion",
		Description: "Only the admin fee is billed; every week is settled on generation",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(ctx context.Context, id billing.ContractID) error
	switch req.ScenarioID {
	case "on-time-tenant":
		load = h.loadOnTimeTenantScenario
	case "late-payer":
		load = h.loadLatePayerScenario
	case "credited-week":
		load = h.loadCreditedWeekScenario
	case "zero-rent":
		load = h.loadZeroRentScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	id := billing.ContractID("DEMO-" + req.ScenarioID)
	if err := load(r.Context(), id); err != nil {
		h.writeEngineError(w, "load_scenario", err)
		return
	}

	st, err := h.Engine.ContractStatement(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "load_scenario", err)
		return
	}
	writeJSON(w, http.StatusCreated, ScenarioResult{
		Scenario:  req.ScenarioID,
		Statement: toStatementDTO(st),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOnTimeTenantScenario(ctx context.Context, id billing.ContractID) error {
	invoices, err := h.signAndSchedule(ctx, id, 6, "100", "50", 12)
	if err != nil {
		return err
	}
	for _, inv := range h.dueInvoices(invoices) {
		if err := h.pay(ctx, inv.ID, inv.Principal); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadLatePayerScenario(ctx context.Context, id billing.ContractID) error {
	invoices, err := h.signAndSchedule(ctx, id, 5, "150", "0", 26)
	if err != nil {
		return err
	}
	due := h.dueInvoices(invoices)
	if len(due) == 0 {
		return nil
	}
	// Two partial payments on week 1; principal is cleared before penalty.
	for _, amount := range []string{"60", "60"} {
		if err := h.pay(ctx, due[0].ID, billing.MustMoney(amount)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadCreditedWeekScenario(ctx context.Context, id billing.ContractID) error {
	invoices, err := h.signAndSchedule(ctx, id, 3, "120", "0", 8)
	if err != nil {
		return err
	}
	due := h.dueInvoices(invoices)
	for _, inv := range due {
		if err := h.pay(ctx, inv.ID, inv.Principal); err != nil {
			return err
		}
	}
	if len(due) == 0 {
		return nil
	}
	_, err = h.Engine.ApplyCreditNote(ctx, billing.CreditNoteInput{
		InvoiceID: due[0].ID,
		Amount:    due[0].Principal,
		Reason:    "vehicle off the road for the whole week",
	})
	return err
}

func (h *Handler) loadZeroRentScenario(ctx context.Context, id billing.ContractID) error {
	_, err := h.signAndSchedule(ctx, id, 2, "0", "75", 4)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// signAndSchedule creates a contract signed weeksAgo weeks before today and
// generates its invoices.
func (h *Handler) signAndSchedule(ctx context.Context, id billing.ContractID, weeksAgo int, rent, fee string, term int) ([]billing.Invoice, error) {
	today := h.Engine.Clock.Today()
	_, err := h.Engine.CreateContract(ctx, billing.ContractTerms{
		ID:         id,
		ClientID:   billing.ClientID("DEMO-CLIENT"),
		Number:     string(id),
		SignedOn:   today.AddDays(-7 * weeksAgo),
		WeeklyRent: billing.MustMoney(rent),
		AdminFee:   billing.MustMoney(fee),
		TermWeeks:  term,
	})
	if err != nil {
		return nil, err
	}
	return h.Engine.GenerateSchedule(ctx, id)
}

// dueInvoices keeps the invoices that accept payments today.
func (h *Handler) dueInvoices(invoices []billing.Invoice) []billing.Invoice {
	today := h.Engine.Clock.Today()
	var due []billing.Invoice
	for _, inv := range invoices {
		if billing.CanAcceptPayment(inv, today) == nil {
			due = append(due, inv)
		}
	}
	return due
}

func (h *Handler) pay(ctx context.Context, id billing.InvoiceID, amount billing.Money) error {
	res, err := h.Engine.ApplyPayment(ctx, billing.PaymentInput{
		InvoiceID: id,
		Amount:    amount,
		Method:    "demo",
	})
	if err != nil {
		return err
	}
	h.Metrics.ObservePayment(res)
	return nil
}
