/*
stats.go - Stats projector: per-employee outstanding work for a vendor

PURPOSE:
  Read-only projection over the same debt model the allocator writes.
  For every active employee of a vendor it summarises work already
  performed (event date <= now) that is still unpaid, grouped by service.

PAID AMOUNT:
  ServiceStats.PaidAmount is always zero. The projection only reads
  unpaid assignments, so paid-to-date is not observable here and
  RemainingAmount always equals TotalAmount. Use ServiceHistory for
  settled work.

ORDERING:
  Employees come in store order (name, id). Services within an employee
  appear in the order their oldest outstanding assignment was incurred.
*/
package payout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ServiceStats summarises one service's outstanding assignments.
type ServiceStats struct {
	ServiceID       ServiceID
	ServiceName     string
	Count           int
	TotalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
}

// EmployeeStats is the per-employee roll-up.
type EmployeeStats struct {
	EmployeeID    EmployeeID
	Name          string
	StatusID      string
	Status        string
	TotalServices int
	TotalAmount   decimal.Decimal
	Balances      Balances
	Services      []ServiceStats
}

// StatsReport maps employee ids to stats, with IDs carrying the order.
type StatsReport struct {
	Employees map[EmployeeID]EmployeeStats
	IDs       []EmployeeID
}

// StatsProjector builds StatsReports.
type StatsProjector struct {
	Store Store
	Now   func() time.Time
}

func NewStatsProjector(store Store) *StatsProjector {
	return &StatsProjector{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// EmployeeStats projects outstanding work for the vendor's active employees.
func (p *StatsProjector) EmployeeStats(ctx context.Context, vendorID VendorID) (StatsReport, error) {
	emps, err := p.Store.ListEmployees(ctx, vendorID, true)
	if err != nil {
		return StatsReport{}, err
	}

	now := p.Now()
	ledger := NewAssignmentLedger(p.Store)
	report := StatsReport{
		Employees: make(map[EmployeeID]EmployeeStats, len(emps)),
		IDs:       make([]EmployeeID, 0, len(emps)),
	}

	for _, emp := range emps {
		entries, err := ledger.Entries(ctx, AssignmentFilter{
			EmployeeID:      emp.ID,
			UnpaidOnly:      true,
			EventOnOrBefore: &now,
		})
		if err != nil {
			return StatsReport{}, err
		}
		SortFIFO(entries)

		stats := EmployeeStats{
			EmployeeID:  emp.ID,
			Name:        emp.Name,
			StatusID:    emp.StatusID,
			Status:      emp.Status,
			TotalAmount: decimal.Zero,
			Balances:    emp.Balances,
			Services:    groupByService(entries),
		}
		for _, s := range stats.Services {
			stats.TotalServices += s.Count
			stats.TotalAmount = stats.TotalAmount.Add(s.TotalAmount)
		}

		report.Employees[emp.ID] = stats
		report.IDs = append(report.IDs, emp.ID)
	}
	return report, nil
}

func groupByService(entries []LedgerEntry) []ServiceStats {
	index := make(map[ServiceID]int)
	var out []ServiceStats
	for _, e := range entries {
		i, ok := index[e.ServiceID]
		if !ok {
			i = len(out)
			index[e.ServiceID] = i
			out = append(out, ServiceStats{
				ServiceID:   e.ServiceID,
				ServiceName: e.ServiceName,
				TotalAmount: decimal.Zero,
				PaidAmount:  decimal.Zero,
			})
		}
		s := &out[i]
		s.Count++
		s.TotalAmount = s.TotalAmount.Add(e.Charge)
		s.RemainingAmount = s.TotalAmount.Sub(s.PaidAmount)
	}
	return out
}
