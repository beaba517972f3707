package billing

import (
	"context"
	"fmt"
)

// Statement summarizes a contract's billing position as of one day.
// Everything in it is derived; nothing is stored.
type Statement struct {
	ContractID ContractID
	ClientID   ClientID
	AsOf       Date

	TermWeeks int
	WeeksPaid int

	OutstandingPrincipal Money
	OutstandingPenalty   Money
	TotalDue             Money

	OverdueCount int
	// NextDue is the earliest due date among unsettled invoices, nil when
	// nothing is left to pay.
	NextDue *Date

	Invoices []InvoiceView
}

// BuildStatement derives a statement from a contract and its invoices.
// Cancelled invoices are listed but contribute nothing to the totals.
func BuildStatement(c Contract, invoices []Invoice, today Date) Statement {
	st := Statement{
		ContractID:           c.ID,
		ClientID:             c.ClientID,
		AsOf:                 today,
		TermWeeks:            c.TermWeeks,
		WeeksPaid:            c.WeeksPaid,
		OutstandingPrincipal: Zero,
		OutstandingPenalty:   Zero,
		TotalDue:             Zero,
		Invoices:             make([]InvoiceView, 0, len(invoices)),
	}

	for _, inv := range invoices {
		v := ViewOf(inv, today)
		st.Invoices = append(st.Invoices, v)

		if v.EffectiveStatus == StatusCancelled {
			continue
		}
		st.OutstandingPrincipal = st.OutstandingPrincipal.Add(v.OutstandingPrincipal)
		st.OutstandingPenalty = st.OutstandingPenalty.Add(v.OutstandingPenalty)

		if v.Display == DisplayOverdue {
			st.OverdueCount++
		}
		if v.EffectiveStatus == StatusFuture || v.EffectiveStatus == StatusPending {
			if st.NextDue == nil || inv.DueDate.Before(*st.NextDue) {
				due := inv.DueDate
				st.NextDue = &due
			}
		}
	}
	st.TotalDue = st.OutstandingPrincipal.Add(st.OutstandingPenalty)
	return st
}

// ContractStatement loads a contract and its invoices and derives the
// statement as of the clock's today.
func (e *Engine) ContractStatement(ctx context.Context, id ContractID) (Statement, error) {
	c, err := e.Store.GetContract(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	invoices, err := e.Store.ListInvoices(ctx, InvoiceFilter{ContractID: id})
	if err != nil {
		return Statement{}, fmt.Errorf("statement for contract %s: %w", id, err)
	}
	return BuildStatement(c, invoices, e.Clock.Today()), nil
}
