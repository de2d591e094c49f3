package payout_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payout/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 0, 0, 0, 0, time.UTC)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.True(t, money(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func empPtr(id payout.EmployeeID) *payout.EmployeeID { return &id }

// fixture seeds a TxMemory with one vendor and builds the engine parts
// against it.
type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.TxMemory
	alloc *payout.Allocator
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewTxMemory()
	alloc := payout.NewAllocator(s, nil)
	alloc.Now = func() time.Time { return fixedNow }
	f := &fixture{t: t, ctx: context.Background(), store: s, alloc: alloc}

	f.service("svc-photo", "Photography")
	f.service("svc-video", "Videography")
	return f
}

func (f *fixture) service(id payout.ServiceID, name string) {
	require.NoError(f.t, f.store.SaveService(f.ctx, payout.Service{ID: id, Name: name}))
}

func (f *fixture) employee(id payout.EmployeeID, b payout.Balances) {
	f.employeeFor("vendor-1", id, string(id), true, b)
}

func (f *fixture) employeeFor(vendor payout.VendorID, id payout.EmployeeID, name string, active bool, b payout.Balances) {
	require.NoError(f.t, f.store.SaveEmployee(f.ctx, payout.Employee{
		ID:       id,
		VendorID: vendor,
		Name:     name,
		StatusID: "status-active",
		Status:   "active",
		Active:   active,
		Balances: b,
	}))
}

func (f *fixture) defaultRate(svc payout.ServiceID, charge string) {
	f.seq++
	require.NoError(f.t, f.store.SaveRate(f.ctx, payout.ServiceRate{
		ID:        payout.RateID("rate-default-" + string(svc)),
		ServiceID: svc,
		Charge:    money(charge),
	}))
}

func (f *fixture) employeeRate(svc payout.ServiceID, emp payout.EmployeeID, charge string) {
	require.NoError(f.t, f.store.SaveRate(f.ctx, payout.ServiceRate{
		ID:         payout.RateID("rate-" + string(svc) + "-" + string(emp)),
		ServiceID:  svc,
		EmployeeID: empPtr(emp),
		Charge:     money(charge),
	}))
}

// assign creates a booking on eventDate and an unpaid assignment for it.
func (f *fixture) assign(id payout.AssignmentID, emp payout.EmployeeID, svc payout.ServiceID, eventDate time.Time) {
	f.assignBooking(id, emp, svc, payout.Booking{
		ID:        payout.BookingID("booking-" + string(id)),
		EventDate: eventDate,
		EventName: "Event " + string(id),
	})
}

func (f *fixture) assignBooking(id payout.AssignmentID, emp payout.EmployeeID, svc payout.ServiceID, b payout.Booking) {
	require.NoError(f.t, f.store.SaveBooking(f.ctx, b))
	require.NoError(f.t, f.store.SaveAssignment(f.ctx, payout.Assignment{
		ID:         id,
		EmployeeID: emp,
		ServiceID:  svc,
		BookingID:  b.ID,
	}))
}

func (f *fixture) balances(emp payout.EmployeeID) payout.Balances {
	e, err := f.store.GetEmployee(f.ctx, emp)
	require.NoError(f.t, err)
	return e.Balances
}

func (f *fixture) isPaid(id payout.AssignmentID) bool {
	views, err := f.store.ListAssignments(f.ctx, payout.AssignmentFilter{})
	require.NoError(f.t, err)
	for _, v := range views {
		if v.ID == id {
			return v.IsPaid
		}
	}
	f.t.Fatalf("assignment %s not found", id)
	return false
}

func (f *fixture) payments(emp payout.EmployeeID) []payout.PaymentHistory {
	ps, err := f.store.ListPayments(f.ctx, emp)
	require.NoError(f.t, err)
	return ps
}

func bal(paid, remaining, extra string) payout.Balances {
	return payout.Balances{
		TotalPaid:      money(paid),
		TotalRemaining: money(remaining),
		ExtraAmount:    money(extra),
	}
}
