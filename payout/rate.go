package payout

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE RESOLVER
// =============================================================================

// ResolveCharge applies the resolution rule to a service's rate rows:
// the employee-specific row wins, then the default row, then zero.
// The second return value is false when nothing resolved.
func ResolveCharge(rates []ServiceRate, employeeID EmployeeID) (decimal.Decimal, bool) {
	var fallback *ServiceRate
	for i := range rates {
		r := &rates[i]
		if r.EmployeeID != nil && *r.EmployeeID == employeeID {
			return r.Charge, true
		}
		if r.IsDefault() && fallback == nil {
			fallback = r
		}
	}
	if fallback != nil {
		return fallback.Charge, true
	}
	return decimal.Zero, false
}

// RateResolver resolves the charge owed per assignment.
// Rates may change between assignment creation and payment, so
// resolution always reads the current rows.
type RateResolver struct {
	Source RateSource
}

func NewRateResolver(src RateSource) *RateResolver {
	return &RateResolver{Source: src}
}

// Resolve returns the charge for (serviceID, employeeID), or zero if no
// rate applies. A missing rate is not an error.
func (rr *RateResolver) Resolve(ctx context.Context, serviceID ServiceID, employeeID EmployeeID) (decimal.Decimal, error) {
	rates, err := rr.Source.ServiceRates(ctx, serviceID)
	if err != nil {
		return decimal.Zero, err
	}
	charge, _ := ResolveCharge(rates, employeeID)
	return charge, nil
}

// memo returns a per-call cache. It must not outlive a single ledger read.
func (rr *RateResolver) memo() *rateMemo {
	return &rateMemo{src: rr.Source, rates: make(map[ServiceID][]ServiceRate)}
}

type rateMemo struct {
	src   RateSource
	rates map[ServiceID][]ServiceRate
}

func (m *rateMemo) resolve(ctx context.Context, serviceID ServiceID, employeeID EmployeeID) (decimal.Decimal, bool, error) {
	rates, ok := m.rates[serviceID]
	if !ok {
		var err error
		rates, err = m.src.ServiceRates(ctx, serviceID)
		if err != nil {
			return decimal.Zero, false, err
		}
		m.rates[serviceID] = rates
	}
	charge, found := ResolveCharge(rates, employeeID)
	return charge, found, nil
}
