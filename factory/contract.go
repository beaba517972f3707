/*
Package factory provides JSON to Go contract conversion.

PURPOSE:
  Converts JSON contract documents, as produced by the leasing back office,
  into billing.ContractTerms and billing.Contract. The HTTP API and the
  preview command both accept this document.

JSON SCHEMA:
  {
    "id": "C-1042",
    "client_id": "CL-77",
    "number": "1042",
    "signed_on": "2024-03-04",
    "weekly_rent": "100.00",
    "admin_fee": "50",
    "term_weeks": 52,
    "daily_penalty_rate": "5.00"
  }

  Amounts may be JSON strings or numbers; strings are preferred because
  they survive every JSON parser exactly. daily_penalty_rate is optional
  and falls back to the configured default.

USAGE:
  f := factory.NewContractFactory(limits.DefaultDailyPenaltyRate)
  terms, err := f.ParseTerms(jsonString)
  contract, err := f.ParseContract(jsonString, time.Now())

SEE ALSO:
  - billing/schedule.go: NewContract validation rules
  - api/handlers.go: POST /api/contracts
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ContractJSON is the JSON representation of contract terms.
type ContractJSON struct {
	ID               string         `json:"id"`
	ClientID         string         `json:"client_id"`
	Number           string         `json:"number,omitempty"`
	SignedOn         string         `json:"signed_on"` // YYYY-MM-DD
	WeeklyRent       billing.Money  `json:"weekly_rent"`
	AdminFee         billing.Money  `json:"admin_fee"`
	TermWeeks        int            `json:"term_weeks"`
	DailyPenaltyRate *billing.Money `json:"daily_penalty_rate,omitempty"`
}

// =============================================================================
// CONTRACT FACTORY
// =============================================================================

// ContractFactory converts JSON contracts to Go structs.
type ContractFactory struct {
	DefaultDailyPenaltyRate billing.Money
}

// NewContractFactory creates a factory that applies rate when a document
// leaves daily_penalty_rate unset.
func NewContractFactory(rate billing.Money) *ContractFactory {
	return &ContractFactory{DefaultDailyPenaltyRate: rate}
}

// ParseTerms parses a JSON string into contract terms.
func (f *ContractFactory) ParseTerms(jsonStr string) (billing.ContractTerms, error) {
	var cj ContractJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return billing.ContractTerms{}, fmt.Errorf("failed to parse contract JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// ParseContract parses and validates a JSON string into a contract.
func (f *ContractFactory) ParseContract(jsonStr string, now time.Time) (billing.Contract, error) {
	terms, err := f.ParseTerms(jsonStr)
	if err != nil {
		return billing.Contract{}, err
	}
	return billing.NewContract(terms, f.DefaultDailyPenaltyRate, now)
}

// FromJSON converts a decoded document into contract terms.
func (f *ContractFactory) FromJSON(cj ContractJSON) (billing.ContractTerms, error) {
	if cj.SignedOn == "" {
		return billing.ContractTerms{}, &billing.ContractError{Field: "signed_on", Reason: "is required"}
	}
	signedOn, err := billing.ParseDate(cj.SignedOn)
	if err != nil {
		return billing.ContractTerms{}, &billing.ContractError{Field: "signed_on", Reason: "must be YYYY-MM-DD"}
	}
	return billing.ContractTerms{
		ID:               billing.ContractID(cj.ID),
		ClientID:         billing.ClientID(cj.ClientID),
		Number:           cj.Number,
		SignedOn:         signedOn,
		WeeklyRent:       cj.WeeklyRent,
		AdminFee:         cj.AdminFee,
		TermWeeks:        cj.TermWeeks,
		DailyPenaltyRate: cj.DailyPenaltyRate,
	}, nil
}

// ToJSON converts a contract back to its document form.
func ToJSON(c billing.Contract) ContractJSON {
	rate := c.DailyPenaltyRate
	return ContractJSON{
		ID:               string(c.ID),
		ClientID:         string(c.ClientID),
		Number:           c.Number,
		SignedOn:         c.SignedOn.String(),
		WeeklyRent:       c.WeeklyRent,
		AdminFee:         c.AdminFee,
		TermWeeks:        c.TermWeeks,
		DailyPenaltyRate: &rate,
	}
}
