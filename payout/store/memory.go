// Package store provides in-memory payout.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	employees   map[payout.EmployeeID]payout.Employee
	services    map[payout.ServiceID]payout.Service
	rates       map[payout.ServiceID][]payout.ServiceRate
	bookings    map[payout.BookingID]payout.Booking
	assignments map[payout.AssignmentID]payout.Assignment
	payments    []payout.PaymentHistory
}

func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.employees = make(map[payout.EmployeeID]payout.Employee)
	m.services = make(map[payout.ServiceID]payout.Service)
	m.rates = make(map[payout.ServiceID][]payout.ServiceRate)
	m.bookings = make(map[payout.BookingID]payout.Booking)
	m.assignments = make(map[payout.AssignmentID]payout.Assignment)
	m.payments = nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (m *Memory) GetEmployee(_ context.Context, id payout.EmployeeID) (payout.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEmployeeLocked(id)
}

// LockEmployee outside a transaction is a plain read.
func (m *Memory) LockEmployee(ctx context.Context, id payout.EmployeeID) (payout.Employee, error) {
	return m.GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(_ context.Context, vendorID payout.VendorID, activeOnly bool) ([]payout.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEmployeesLocked(vendorID, activeOnly), nil
}

func (m *Memory) ListVendors(_ context.Context) ([]payout.VendorID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listVendorsLocked(), nil
}

func (m *Memory) ListAssignments(_ context.Context, filter payout.AssignmentFilter) ([]payout.AssignmentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAssignmentsLocked(filter), nil
}

func (m *Memory) ServiceRates(_ context.Context, serviceID payout.ServiceID) ([]payout.ServiceRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payout.ServiceRate(nil), m.rates[serviceID]...), nil
}

func (m *Memory) ListPayments(_ context.Context, employeeID payout.EmployeeID) ([]payout.PaymentHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(employeeID), nil
}

func (m *Memory) GetPayment(_ context.Context, id payout.PaymentID) (payout.PaymentHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(id)
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

func (m *Memory) AppendPayment(_ context.Context, p payout.PaymentHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPaymentLocked(p)
}

func (m *Memory) MarkAssignmentPaid(_ context.Context, id payout.AssignmentID, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPaidLocked(id, paidAt)
}

func (m *Memory) UpdateBalances(_ context.Context, id payout.EmployeeID, b payout.Balances) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBalancesLocked(id, b)
}

// -----------------------------------------------------------------------------
// Seeder
// -----------------------------------------------------------------------------

func (m *Memory) SaveEmployee(_ context.Context, e payout.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) SaveService(_ context.Context, s payout.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
	return nil
}

// SaveRate replaces a rate with the same id, otherwise appends.
func (m *Memory) SaveRate(_ context.Context, r payout.ServiceRate) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rates := m.rates[r.ServiceID]
	for i := range rates {
		if rates[i].ID == r.ID {
			rates[i] = r
			return nil
		}
	}
	m.rates[r.ServiceID] = append(rates, r)
	return nil
}

func (m *Memory) SaveBooking(_ context.Context, b payout.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) SaveAssignment(_ context.Context, a payout.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = a
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

// -----------------------------------------------------------------------------
// Locked helpers (caller holds mu)
// -----------------------------------------------------------------------------

func (m *Memory) getEmployeeLocked(id payout.EmployeeID) (payout.Employee, error) {
	e, ok := m.employees[id]
	if !ok {
		return payout.Employee{}, payout.ErrEmployeeNotFound
	}
	return e, nil
}

func (m *Memory) listVendorsLocked() []payout.VendorID {
	seen := make(map[payout.VendorID]bool)
	var out []payout.VendorID
	for _, e := range m.employees {
		if !seen[e.VendorID] {
			seen[e.VendorID] = true
			out = append(out, e.VendorID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Memory) listEmployeesLocked(vendorID payout.VendorID, activeOnly bool) []payout.Employee {
	var out []payout.Employee
	for _, e := range m.employees {
		if e.VendorID != vendorID || (activeOnly && !e.Active) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) listAssignmentsLocked(f payout.AssignmentFilter) []payout.AssignmentView {
	var out []payout.AssignmentView
	for _, a := range m.assignments {
		if f.EmployeeID != "" && a.EmployeeID != f.EmployeeID {
			continue
		}
		if f.UnpaidOnly && a.IsPaid {
			continue
		}
		b := m.bookings[a.BookingID]
		if f.EventOnOrBefore != nil && b.EventDate.After(*f.EventOnOrBefore) {
			continue
		}
		if f.EventBefore != nil && !b.EventDate.Before(*f.EventBefore) {
			continue
		}
		if f.ExcludeCancelled && b.Cancelled {
			continue
		}
		view := payout.AssignmentView{
			Assignment:  a,
			ServiceName: m.services[a.ServiceID].Name,
			Booking:     b,
		}
		if a.PaidAt != nil {
			t := *a.PaidAt
			view.PaidAt = &t
		}
		out = append(out, view)
	}
	return out
}

func (m *Memory) listPaymentsLocked(employeeID payout.EmployeeID) []payout.PaymentHistory {
	var out []payout.PaymentHistory
	for i := len(m.payments) - 1; i >= 0; i-- {
		if m.payments[i].EmployeeID == employeeID {
			out = append(out, m.payments[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaidAt.After(out[j].PaidAt) })
	return out
}

func (m *Memory) getPaymentLocked(id payout.PaymentID) (payout.PaymentHistory, error) {
	for _, p := range m.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return payout.PaymentHistory{}, payout.ErrPaymentNotFound
}

func (m *Memory) appendPaymentLocked(p payout.PaymentHistory) error {
	if _, ok := m.employees[p.EmployeeID]; !ok {
		return payout.ErrEmployeeNotFound
	}
	m.payments = append(m.payments, p)
	return nil
}

func (m *Memory) markPaidLocked(id payout.AssignmentID, paidAt time.Time) error {
	a, ok := m.assignments[id]
	if !ok {
		return payout.ErrAssignmentNotFound
	}
	if a.IsPaid {
		return payout.ErrAlreadyPaid
	}
	a.IsPaid = true
	a.PaidAt = &paidAt
	m.assignments[id] = a
	return nil
}

func (m *Memory) updateBalancesLocked(id payout.EmployeeID, b payout.Balances) error {
	e, ok := m.employees[id]
	if !ok {
		return payout.ErrEmployeeNotFound
	}
	e.Balances = b
	m.employees[id] = e
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
// The store mutex is held for the whole transaction, which serializes
// every payment (and therefore every payment for the same employee).
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	// Commit (already done via direct writes)
	return nil
}

// Only the maps the engine writes are snapshotted. Seeder calls cannot
// happen inside a transaction.
type memorySnapshot struct {
	employees   map[payout.EmployeeID]payout.Employee
	assignments map[payout.AssignmentID]payout.Assignment
	payments    []payout.PaymentHistory
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		employees:   make(map[payout.EmployeeID]payout.Employee, len(tm.employees)),
		assignments: make(map[payout.AssignmentID]payout.Assignment, len(tm.assignments)),
		payments:    append([]payout.PaymentHistory(nil), tm.payments...),
	}
	for k, v := range tm.employees {
		s.employees[k] = v
	}
	for k, v := range tm.assignments {
		s.assignments[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.employees = s.employees
	tm.assignments = s.assignments
	tm.payments = s.payments
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock
// is already held, so every method uses the locked helpers.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetEmployee(_ context.Context, id payout.EmployeeID) (payout.Employee, error) {
	return tv.parent.getEmployeeLocked(id)
}

func (tv *txMemoryView) LockEmployee(_ context.Context, id payout.EmployeeID) (payout.Employee, error) {
	return tv.parent.getEmployeeLocked(id)
}

func (tv *txMemoryView) ListEmployees(_ context.Context, vendorID payout.VendorID, activeOnly bool) ([]payout.Employee, error) {
	return tv.parent.listEmployeesLocked(vendorID, activeOnly), nil
}

func (tv *txMemoryView) ListVendors(_ context.Context) ([]payout.VendorID, error) {
	return tv.parent.listVendorsLocked(), nil
}

func (tv *txMemoryView) ListAssignments(_ context.Context, f payout.AssignmentFilter) ([]payout.AssignmentView, error) {
	return tv.parent.listAssignmentsLocked(f), nil
}

func (tv *txMemoryView) ServiceRates(_ context.Context, serviceID payout.ServiceID) ([]payout.ServiceRate, error) {
	return append([]payout.ServiceRate(nil), tv.parent.rates[serviceID]...), nil
}

func (tv *txMemoryView) ListPayments(_ context.Context, employeeID payout.EmployeeID) ([]payout.PaymentHistory, error) {
	return tv.parent.listPaymentsLocked(employeeID), nil
}

func (tv *txMemoryView) GetPayment(_ context.Context, id payout.PaymentID) (payout.PaymentHistory, error) {
	return tv.parent.getPaymentLocked(id)
}

func (tv *txMemoryView) AppendPayment(_ context.Context, p payout.PaymentHistory) error {
	return tv.parent.appendPaymentLocked(p)
}

func (tv *txMemoryView) MarkAssignmentPaid(_ context.Context, id payout.AssignmentID, paidAt time.Time) error {
	return tv.parent.markPaidLocked(id, paidAt)
}

func (tv *txMemoryView) UpdateBalances(_ context.Context, id payout.EmployeeID, b payout.Balances) error {
	return tv.parent.updateBalancesLocked(id, b)
}
