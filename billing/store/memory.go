// Package store provides in-process billing.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	contracts   map[billing.ContractID]billing.Contract
	invoices    map[billing.InvoiceID]billing.Invoice
	payments    map[billing.InvoiceID][]billing.Payment
	creditNotes map[billing.InvoiceID][]billing.CreditNote
}

func NewMemory() *Memory {
	return &Memory{
		contracts:   make(map[billing.ContractID]billing.Contract),
		invoices:    make(map[billing.InvoiceID]billing.Invoice),
		payments:    make(map[billing.InvoiceID][]billing.Payment),
		creditNotes: make(map[billing.InvoiceID][]billing.CreditNote),
	}
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (m *Memory) CreateContract(_ context.Context, c billing.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createContractLocked(c)
}

func (m *Memory) createContractLocked(c billing.Contract) error {
	if _, ok := m.contracts[c.ID]; ok {
		return billing.ErrDuplicateContract
	}
	m.contracts[c.ID] = c
	return nil
}

func (m *Memory) GetContract(_ context.Context, id billing.ContractID) (billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getContractLocked(id)
}

func (m *Memory) getContractLocked(id billing.ContractID) (billing.Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return billing.Contract{}, billing.ErrContractNotFound
	}
	return c, nil
}

func (m *Memory) ListContracts(_ context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listContractsLocked(clientID), nil
}

func (m *Memory) listContractsLocked(clientID billing.ClientID) []billing.Contract {
	var result []billing.Contract
	for _, c := range m.contracts {
		if clientID != "" && c.ClientID != clientID {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *Memory) AdjustWeeksPaid(_ context.Context, id billing.ContractID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustWeeksPaidLocked(id, delta)
}

func (m *Memory) adjustWeeksPaidLocked(id billing.ContractID, delta int) (int, error) {
	c, ok := m.contracts[id]
	if !ok {
		return 0, billing.ErrContractNotFound
	}
	c.WeeksPaid = billing.FloorWeeksPaid(c.WeeksPaid, delta)
	m.contracts[id] = c
	return c.WeeksPaid, nil
}

func (m *Memory) MarkScheduleGenerated(_ context.Context, id billing.ContractID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markScheduleGeneratedLocked(id)
}

func (m *Memory) markScheduleGeneratedLocked(id billing.ContractID) error {
	c, ok := m.contracts[id]
	if !ok {
		return billing.ErrContractNotFound
	}
	if c.ScheduleGenerated {
		return billing.ErrScheduleAlreadyGenerated
	}
	c.ScheduleGenerated = true
	m.contracts[id] = c
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

// CreateInvoices adds all invoices or none.
func (m *Memory) CreateInvoices(_ context.Context, invoices []billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createInvoicesLocked(invoices)
}

func (m *Memory) createInvoicesLocked(invoices []billing.Invoice) error {
	// Check first so a duplicate leaves nothing behind
	seen := make(map[billing.InvoiceID]bool, len(invoices))
	for _, inv := range invoices {
		if _, ok := m.invoices[inv.ID]; ok || seen[inv.ID] {
			return billing.ErrDuplicateInvoice
		}
		seen[inv.ID] = true
	}
	for _, inv := range invoices {
		m.invoices[inv.ID] = inv
	}
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvoiceLocked(id)
}

func (m *Memory) getInvoiceLocked(id billing.InvoiceID) (billing.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, nil
}

func (m *Memory) UpdateInvoice(_ context.Context, inv billing.Invoice) (billing.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInvoiceLocked(inv)
}

func (m *Memory) updateInvoiceLocked(inv billing.Invoice) (billing.Invoice, error) {
	current, ok := m.invoices[inv.ID]
	if !ok {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	if current.Version != inv.Version {
		return billing.Invoice{}, billing.ErrConcurrentModification
	}
	inv.Version++
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *Memory) ListInvoices(_ context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInvoicesLocked(filter), nil
}

func (m *Memory) listInvoicesLocked(filter billing.InvoiceFilter) []billing.Invoice {
	var result []billing.Invoice
	for _, inv := range m.invoices {
		if filter.ContractID != "" && inv.ContractID != filter.ContractID {
			continue
		}
		if filter.ClientID != "" && inv.ClientID != filter.ClientID {
			continue
		}
		if !filter.MatchesStatus(inv.Status) {
			continue
		}
		if filter.DueBefore != nil && inv.DueDate.After(*filter.DueBefore) {
			continue
		}
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ContractID != result[j].ContractID {
			return result[i].ContractID < result[j].ContractID
		}
		return result[i].WeekNumber < result[j].WeekNumber
	})
	return result
}

// =============================================================================
// PAYMENTS & CREDIT NOTES (append-only)
// =============================================================================

func (m *Memory) CreatePayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.InvoiceID] = append(m.payments[p.InvoiceID], p)
	return nil
}

func (m *Memory) ListPayments(_ context.Context, invoiceID billing.InvoiceID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.Payment(nil), m.payments[invoiceID]...), nil
}

func (m *Memory) CreateCreditNote(_ context.Context, cn billing.CreditNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creditNotes[cn.InvoiceID] = append(m.creditNotes[cn.InvoiceID], cn)
	return nil
}

func (m *Memory) ListCreditNotes(_ context.Context, invoiceID billing.InvoiceID) ([]billing.CreditNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.CreditNote(nil), m.creditNotes[invoiceID]...), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized: the store lock is held for the whole of fn.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	contracts   map[billing.ContractID]billing.Contract
	invoices    map[billing.InvoiceID]billing.Invoice
	payments    map[billing.InvoiceID][]billing.Payment
	creditNotes map[billing.InvoiceID][]billing.CreditNote
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		contracts:   make(map[billing.ContractID]billing.Contract, len(tm.contracts)),
		invoices:    make(map[billing.InvoiceID]billing.Invoice, len(tm.invoices)),
		payments:    make(map[billing.InvoiceID][]billing.Payment, len(tm.payments)),
		creditNotes: make(map[billing.InvoiceID][]billing.CreditNote, len(tm.creditNotes)),
	}
	for k, v := range tm.contracts {
		s.contracts[k] = v
	}
	for k, v := range tm.invoices {
		s.invoices[k] = v
	}
	for k, v := range tm.payments {
		s.payments[k] = append([]billing.Payment(nil), v...)
	}
	for k, v := range tm.creditNotes {
		s.creditNotes[k] = append([]billing.CreditNote(nil), v...)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.contracts = s.contracts
	tm.invoices = s.invoices
	tm.payments = s.payments
	tm.creditNotes = s.creditNotes
}

// txMemoryView runs against the parent's maps without taking the lock,
// which WithTx already holds.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateContract(_ context.Context, c billing.Contract) error {
	return tv.parent.createContractLocked(c)
}

func (tv *txMemoryView) GetContract(_ context.Context, id billing.ContractID) (billing.Contract, error) {
	return tv.parent.getContractLocked(id)
}

func (tv *txMemoryView) ListContracts(_ context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	return tv.parent.listContractsLocked(clientID), nil
}

func (tv *txMemoryView) AdjustWeeksPaid(_ context.Context, id billing.ContractID, delta int) (int, error) {
	return tv.parent.adjustWeeksPaidLocked(id, delta)
}

func (tv *txMemoryView) MarkScheduleGenerated(_ context.Context, id billing.ContractID) error {
	return tv.parent.markScheduleGeneratedLocked(id)
}

func (tv *txMemoryView) CreateInvoices(_ context.Context, invoices []billing.Invoice) error {
	return tv.parent.createInvoicesLocked(invoices)
}

func (tv *txMemoryView) GetInvoice(_ context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	return tv.parent.getInvoiceLocked(id)
}

func (tv *txMemoryView) UpdateInvoice(_ context.Context, inv billing.Invoice) (billing.Invoice, error) {
	return tv.parent.updateInvoiceLocked(inv)
}

func (tv *txMemoryView) ListInvoices(_ context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	return tv.parent.listInvoicesLocked(filter), nil
}

func (tv *txMemoryView) CreatePayment(_ context.Context, p billing.Payment) error {
	tv.parent.payments[p.InvoiceID] = append(tv.parent.payments[p.InvoiceID], p)
	return nil
}

func (tv *txMemoryView) ListPayments(_ context.Context, invoiceID billing.InvoiceID) ([]billing.Payment, error) {
	return append([]billing.Payment(nil), tv.parent.payments[invoiceID]...), nil
}

func (tv *txMemoryView) CreateCreditNote(_ context.Context, cn billing.CreditNote) error {
	tv.parent.creditNotes[cn.InvoiceID] = append(tv.parent.creditNotes[cn.InvoiceID], cn)
	return nil
}

func (tv *txMemoryView) ListCreditNotes(_ context.Context, invoiceID billing.InvoiceID) ([]billing.CreditNote, error) {
	return append([]billing.CreditNote(nil), tv.parent.creditNotes[invoiceID]...), nil
}
