package payout_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
)

func ids(entries []payout.LedgerEntry) []payout.AssignmentID {
	out := make([]payout.AssignmentID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func newReports(f *fixture) *payout.Reports {
	r := payout.NewReports(f.store)
	r.Now = func() time.Time { return fixedNow }
	return r
}

func TestReports_AssignedServicesNewestFirst(t *testing.T) {
	f := statsFixture(t)

	out, err := newReports(f).AssignedServices(f.ctx, "vendor-1")
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, payout.EmployeeID("emp-1"), out[0].EmployeeID)
	assert.Equal(t, []payout.AssignmentID{"a-future", "a-3", "a-2", "a-1"}, ids(out[0].Entries))
	assert.Empty(t, out[1].Entries)
}

func TestReports_AssignedServicesNoActiveEmployees(t *testing.T) {
	f := newFixture(t)
	f.employeeFor("vendor-9", "emp-x", "X", false, bal("0", "0", "0"))

	_, err := newReports(f).AssignedServices(f.ctx, "vendor-9")
	assert.ErrorIs(t, err, payout.ErrEmployeeNotFound)
}

func TestReports_ServiceHistory(t *testing.T) {
	// GIVEN: past paid, past unpaid, past cancelled and future assignments
	// WHEN: reading history
	// THEN: past non-cancelled only, paid included, newest first
	f := statsFixture(t)
	f.assignBooking("a-cancelled", "emp-1", "svc-photo", payout.Booking{
		ID: "booking-cancelled", EventDate: day(time.March, 1), Cancelled: true,
	})
	_, err := f.alloc.Allocate(f.ctx, payout.PaymentRequest{
		EmployeeID: "emp-1", Amount: money("150"), AssignmentIDs: []payout.AssignmentID{"a-1"},
	})
	require.NoError(t, err)

	h, err := newReports(f).ServiceHistory(f.ctx, "emp-1")
	require.NoError(t, err)

	assert.Equal(t, []payout.AssignmentID{"a-3", "a-2", "a-1"}, ids(h.Entries))
	assert.True(t, h.Entries[2].IsPaid)
	require.NotNil(t, h.Entries[2].PaidAt)
	assert.False(t, h.Entries[0].IsPaid)
	requireMoney(t, "250", h.Balances.TotalPaid)

	_, err = newReports(f).ServiceHistory(f.ctx, "ghost")
	assert.ErrorIs(t, err, payout.ErrEmployeeNotFound)
}

func TestReports_Billable(t *testing.T) {
	f := statsFixture(t)

	out, err := newReports(f).Billable(f.ctx, "vendor-1")
	require.NoError(t, err)

	require.Len(t, out, 2)
	alice := out[0]
	assert.Equal(t, 4, alice.TotalCount)
	// video 2 x 150 + photo 2 x 300
	requireMoney(t, "900", alice.TotalAmount)
	require.Len(t, alice.Services, 2)
	assert.Equal(t, payout.ServiceID("svc-video"), alice.Services[0].ServiceID)
	requireMoney(t, "150", alice.Services[0].Rate)
	requireMoney(t, "300", alice.Services[0].Amount)
}

func TestReports_Unpaid(t *testing.T) {
	f := statsFixture(t)

	u, err := newReports(f).Unpaid(f.ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, []payout.AssignmentID{"a-1", "a-2", "a-3", "a-future"}, ids(u.Entries))
}
