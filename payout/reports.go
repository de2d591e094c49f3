package payout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORTS - Read models over the assignment ledger
// =============================================================================

// EmployeeAssignments is one employee's assignment list.
type EmployeeAssignments struct {
	EmployeeID EmployeeID
	Name       string
	Balances   Balances
	Entries    []LedgerEntry
}

// BillableService is count x rate for one service.
type BillableService struct {
	ServiceID   ServiceID
	ServiceName string
	Count       int
	Rate        decimal.Decimal
	Amount      decimal.Decimal
}

// BillableSummary is the billable roll-up for one employee over every
// assignment, paid or not.
type BillableSummary struct {
	EmployeeID  EmployeeID
	Name        string
	TotalCount  int
	TotalAmount decimal.Decimal
	Services    []BillableService
}

// Reports serves the vendor and employee read models.
type Reports struct {
	Store Store
	Now   func() time.Time
}

func NewReports(store Store) *Reports {
	return &Reports{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// AssignedServices lists every active employee's unpaid assignments,
// newest event first. Returns ErrEmployeeNotFound when the vendor has no
// active employees.
func (r *Reports) AssignedServices(ctx context.Context, vendorID VendorID) ([]EmployeeAssignments, error) {
	emps, err := r.Store.ListEmployees(ctx, vendorID, true)
	if err != nil {
		return nil, err
	}
	if len(emps) == 0 {
		return nil, ErrEmployeeNotFound
	}

	ledger := NewAssignmentLedger(r.Store)
	out := make([]EmployeeAssignments, 0, len(emps))
	for _, emp := range emps {
		entries, err := ledger.Entries(ctx, AssignmentFilter{EmployeeID: emp.ID, UnpaidOnly: true})
		if err != nil {
			return nil, err
		}
		SortNewestFirst(entries)
		out = append(out, EmployeeAssignments{
			EmployeeID: emp.ID,
			Name:       emp.Name,
			Balances:   emp.Balances,
			Entries:    entries,
		})
	}
	return out, nil
}

// ServiceHistory lists the employee's past, non-cancelled assignments,
// paid and unpaid, newest event first.
func (r *Reports) ServiceHistory(ctx context.Context, employeeID EmployeeID) (EmployeeAssignments, error) {
	emp, err := r.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return EmployeeAssignments{}, err
	}
	now := r.Now()
	entries, err := NewAssignmentLedger(r.Store).Entries(ctx, AssignmentFilter{
		EmployeeID:       emp.ID,
		EventBefore:      &now,
		ExcludeCancelled: true,
	})
	if err != nil {
		return EmployeeAssignments{}, err
	}
	SortNewestFirst(entries)
	return EmployeeAssignments{
		EmployeeID: emp.ID,
		Name:       emp.Name,
		Balances:   emp.Balances,
		Entries:    entries,
	}, nil
}

// Unpaid returns the employee with its unpaid ledger in FIFO order.
func (r *Reports) Unpaid(ctx context.Context, employeeID EmployeeID) (EmployeeAssignments, error) {
	emp, err := r.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return EmployeeAssignments{}, err
	}
	entries, err := NewAssignmentLedger(r.Store).UnpaidAssignments(ctx, emp.ID)
	if err != nil {
		return EmployeeAssignments{}, err
	}
	return EmployeeAssignments{
		EmployeeID: emp.ID,
		Name:       emp.Name,
		Balances:   emp.Balances,
		Entries:    entries,
	}, nil
}

// Billable summarises count x resolved rate per service for each active
// employee of the vendor.
func (r *Reports) Billable(ctx context.Context, vendorID VendorID) ([]BillableSummary, error) {
	emps, err := r.Store.ListEmployees(ctx, vendorID, true)
	if err != nil {
		return nil, err
	}

	ledger := NewAssignmentLedger(r.Store)
	out := make([]BillableSummary, 0, len(emps))
	for _, emp := range emps {
		entries, err := ledger.Entries(ctx, AssignmentFilter{EmployeeID: emp.ID})
		if err != nil {
			return nil, err
		}
		SortFIFO(entries)

		summary := BillableSummary{
			EmployeeID:  emp.ID,
			Name:        emp.Name,
			TotalCount:  len(entries),
			TotalAmount: decimal.Zero,
		}
		index := make(map[ServiceID]int)
		for _, e := range entries {
			i, ok := index[e.ServiceID]
			if !ok {
				i = len(summary.Services)
				index[e.ServiceID] = i
				summary.Services = append(summary.Services, BillableService{
					ServiceID:   e.ServiceID,
					ServiceName: e.ServiceName,
					Rate:        e.Charge,
				})
			}
			summary.Services[i].Count++
		}
		for i := range summary.Services {
			s := &summary.Services[i]
			s.Amount = s.Rate.Mul(decimal.NewFromInt(int64(s.Count)))
			summary.TotalAmount = summary.TotalAmount.Add(s.Amount)
		}
		out = append(out, summary)
	}
	return out, nil
}
