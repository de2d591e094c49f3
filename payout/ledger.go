/*
ledger.go - Assignment ledger: an employee's debts with resolved charges

PURPOSE:
  Reads assignments through the Store and enriches each one with the
  charge resolved right now. The allocator only ever sees LedgerEntry
  values, never raw rate rows.

ORDERING:
  Unpaid entries come back oldest event first; entries sharing an event
  date are ordered by assignment id. The order is total, so auto-pay
  settles the same assignments for the same input every time.

NO DOUBLE SETTLEMENT:
  UnpaidAssignments filters on IsPaid at read time. Inside a payment
  transaction the employee row is locked first, so an assignment settled
  by a concurrent payment is invisible here once that payment commits.
*/
package payout

import (
	"context"
	"sort"
)

// AssignmentLedger is the set of service assignments for an employee and
// their paid/unpaid state.
type AssignmentLedger struct {
	Store Store
	Rates *RateResolver
}

func NewAssignmentLedger(store Store) *AssignmentLedger {
	return &AssignmentLedger{Store: store, Rates: NewRateResolver(store)}
}

// UnpaidAssignments returns the employee's unpaid assignments in FIFO order.
func (l *AssignmentLedger) UnpaidAssignments(ctx context.Context, employeeID EmployeeID) ([]LedgerEntry, error) {
	entries, err := l.Entries(ctx, AssignmentFilter{EmployeeID: employeeID, UnpaidOnly: true})
	if err != nil {
		return nil, err
	}
	SortFIFO(entries)
	return entries, nil
}

// ByID returns one of the employee's assignments, paid or not.
func (l *AssignmentLedger) ByID(ctx context.Context, employeeID EmployeeID, id AssignmentID) (LedgerEntry, error) {
	entries, err := l.Entries(ctx, AssignmentFilter{EmployeeID: employeeID})
	if err != nil {
		return LedgerEntry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return LedgerEntry{}, ErrAssignmentNotFound
}

// Entries loads assignments matching filter and resolves their charges.
// The returned order is the store's.
func (l *AssignmentLedger) Entries(ctx context.Context, filter AssignmentFilter) ([]LedgerEntry, error) {
	views, err := l.Store.ListAssignments(ctx, filter)
	if err != nil {
		return nil, err
	}

	memo := l.Rates.memo()
	entries := make([]LedgerEntry, 0, len(views))
	for _, v := range views {
		charge, found, err := memo.resolve(ctx, v.ServiceID, v.EmployeeID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LedgerEntry{AssignmentView: v, Charge: charge, ZeroCharge: !found})
	}
	return entries, nil
}

// SortFIFO orders entries by event date ascending, then assignment id.
func SortFIFO(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].EventDate(), entries[j].EventDate()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return entries[i].ID < entries[j].ID
	})
}

// SortNewestFirst orders entries by event date descending, then assignment id.
func SortNewestFirst(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].EventDate(), entries[j].EventDate()
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return entries[i].ID < entries[j].ID
	})
}
