package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2025, time.June, 1, 9, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func money(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func seed(t *testing.T, s *sqlite.Store, extra string) {
	t.Helper()
	ctx := context.Background()
	emp := payout.EmployeeID("emp-1")

	require.NoError(t, s.SaveEmployee(ctx, payout.Employee{
		ID: emp, VendorID: "vendor-1", Name: "Alice", Active: true,
		Balances: payout.Balances{TotalPaid: money("0"), TotalRemaining: money("800.50"), ExtraAmount: money(extra)},
	}))
	require.NoError(t, s.SaveService(ctx, payout.Service{ID: "svc-photo", Name: "Photography"}))
	require.NoError(t, s.SaveService(ctx, payout.Service{ID: "svc-video", Name: "Videography"}))
	require.NoError(t, s.SaveRate(ctx, payout.ServiceRate{ID: "r-photo", ServiceID: "svc-photo", Charge: money("500.25")}))
	require.NoError(t, s.SaveRate(ctx, payout.ServiceRate{ID: "r-video", ServiceID: "svc-video", Charge: money("400")}))
	require.NoError(t, s.SaveRate(ctx, payout.ServiceRate{ID: "r-video-emp", ServiceID: "svc-video", EmployeeID: &emp, Charge: money("300.25")}))

	require.NoError(t, s.SaveBooking(ctx, payout.Booking{ID: "b-jan01", EventDate: time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC), EventName: "Wedding"}))
	require.NoError(t, s.SaveBooking(ctx, payout.Booking{ID: "b-jan15", EventDate: time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC), EventName: "Gala", Cancelled: true}))
	require.NoError(t, s.SaveAssignment(ctx, payout.Assignment{ID: "a-jan15", EmployeeID: emp, ServiceID: "svc-video", BookingID: "b-jan15"}))
	require.NoError(t, s.SaveAssignment(ctx, payout.Assignment{ID: "a-jan01", EmployeeID: emp, ServiceID: "svc-photo", BookingID: "b-jan01"}))
}

func newAllocator(s payout.TxStore) *payout.Allocator {
	a := payout.NewAllocator(s, nil)
	a.Now = func() time.Time { return now }
	return a
}

// =============================================================================
// ALLOCATION END TO END
// =============================================================================

func TestSQLite_AutoPayFIFO(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "0")

	res, err := newAllocator(s).Allocate(ctx, payout.PaymentRequest{
		EmployeeID: "emp-1", Amount: money("500.25"), AutoPay: true,
	})
	require.NoError(t, err)

	require.Len(t, res.Settled, 1)
	assert.Equal(t, payout.AssignmentID("a-jan01"), res.Settled[0].ID)

	emp, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "500.25", emp.Balances.TotalPaid.String())
	assert.Equal(t, "300.25", emp.Balances.TotalRemaining.String())
	assert.True(t, emp.Balances.ExtraAmount.IsZero())

	views, err := s.ListAssignments(ctx, payout.AssignmentFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[0].IsPaid)
	require.NotNil(t, views[0].PaidAt)
	assert.Equal(t, now, *views[0].PaidAt)
	assert.False(t, views[1].IsPaid)
}

func TestSQLite_ExplicitOverdraftAndAudit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "-100")

	paidAt := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
	res, err := newAllocator(s).Allocate(ctx, payout.PaymentRequest{
		EmployeeID:    "emp-1",
		Amount:        money("200"),
		PaidAt:        &paidAt,
		AssignmentIDs: []payout.AssignmentID{"a-jan15"},
	})
	require.NoError(t, err)

	assert.Equal(t, "100", res.Absorbed.String())
	emp, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	// 200 - 100 absorbed - 300.25 selected
	assert.Equal(t, "-200.25", emp.Balances.ExtraAmount.String())
	assert.Equal(t, "500.25", emp.Balances.TotalRemaining.String())

	ps, err := s.ListPayments(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "200", ps[0].Amount.String())
	assert.Equal(t, paidAt, ps[0].PaidAt)

	got, err := s.GetPayment(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ps[0], got)
}

func TestSQLite_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "0")

	boom := errors.New("injected")
	err := s.WithTx(ctx, func(tx payout.Store) error {
		require.NoError(t, tx.AppendPayment(ctx, payout.PaymentHistory{ID: "p-1", EmployeeID: "emp-1", Amount: money("1"), PaidAt: now, CreatedAt: now}))
		require.NoError(t, tx.MarkAssignmentPaid(ctx, "a-jan01", now))
		return boom
	})
	require.ErrorIs(t, err, boom)

	ps, err := s.ListPayments(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, ps)
	unpaid, err := s.ListAssignments(ctx, payout.AssignmentFilter{EmployeeID: "emp-1", UnpaidOnly: true})
	require.NoError(t, err)
	assert.Len(t, unpaid, 2)
}

func TestSQLite_MarkPaidIsOneWay(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "0")

	require.NoError(t, s.MarkAssignmentPaid(ctx, "a-jan01", now))
	assert.ErrorIs(t, s.MarkAssignmentPaid(ctx, "a-jan01", now), payout.ErrAlreadyPaid)
	assert.ErrorIs(t, s.MarkAssignmentPaid(ctx, "nope", now), payout.ErrAssignmentNotFound)

	// re-seeding never re-opens a settled assignment
	require.NoError(t, s.SaveAssignment(ctx, payout.Assignment{ID: "a-jan01", EmployeeID: "emp-1", ServiceID: "svc-photo", BookingID: "b-jan01"}))
	unpaid, err := s.ListAssignments(ctx, payout.AssignmentFilter{EmployeeID: "emp-1", UnpaidOnly: true})
	require.NoError(t, err)
	assert.Len(t, unpaid, 1)
}

func TestSQLite_PaymentIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "0")

	_, err := newAllocator(s).Allocate(ctx, payout.PaymentRequest{EmployeeID: "emp-1", Amount: money("10")})
	require.NoError(t, err)

	err = s.AppendPayment(ctx, payout.PaymentHistory{ID: "dup", EmployeeID: "emp-1", Amount: money("1"), PaidAt: now, CreatedAt: now})
	require.NoError(t, err)
	err = s.AppendPayment(ctx, payout.PaymentHistory{ID: "dup", EmployeeID: "emp-1", Amount: money("2"), PaidAt: now, CreatedAt: now})
	assert.Error(t, err, "payment ids are unique")
}

func TestSQLite_Filters(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "0")

	cutoff := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	before, err := s.ListAssignments(ctx, payout.AssignmentFilter{EmployeeID: "emp-1", EventOnOrBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, "Photography", before[0].ServiceName)
	assert.Equal(t, "Wedding", before[0].Booking.EventName)

	live, err := s.ListAssignments(ctx, payout.AssignmentFilter{EmployeeID: "emp-1", ExcludeCancelled: true})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, payout.AssignmentID("a-jan01"), live[0].ID)

	exact := time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)
	strict, err := s.ListAssignments(ctx, payout.AssignmentFilter{EventBefore: &exact})
	require.NoError(t, err)
	assert.Empty(t, strict)

	inclusive, err := s.ListAssignments(ctx, payout.AssignmentFilter{EventOnOrBefore: &exact})
	require.NoError(t, err)
	require.Len(t, inclusive, 1)
	assert.Equal(t, payout.AssignmentID("a-jan01"), inclusive[0].ID)
}

func TestSQLite_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.GetEmployee(ctx, "ghost")
	assert.ErrorIs(t, err, payout.ErrEmployeeNotFound)
	_, err = s.GetPayment(ctx, "ghost")
	assert.ErrorIs(t, err, payout.ErrPaymentNotFound)
	assert.ErrorIs(t, s.UpdateBalances(ctx, "ghost", payout.Balances{}), payout.ErrEmployeeNotFound)

	_, err = newAllocator(s).Allocate(ctx, payout.PaymentRequest{EmployeeID: "ghost", Amount: money("1")})
	assert.ErrorIs(t, err, payout.ErrEmployeeNotFound)
}

func TestSQLite_ConcurrentPaymentsSerialize(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "0")
	alloc := newAllocator(s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := alloc.Allocate(ctx, payout.PaymentRequest{EmployeeID: "emp-1", Amount: money("100.25"), AutoPay: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	emp, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "802", emp.Balances.TotalPaid.String())
	ps, err := s.ListPayments(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, ps, 8)
}

func TestSQLite_RateChargeMustNotBeNegative(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "0")

	err := s.SaveRate(ctx, payout.ServiceRate{ID: "r-neg", ServiceID: "svc-photo", Charge: money("-0.01")})
	require.Error(t, err)

	rates, err := s.ServiceRates(ctx, "svc-photo")
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.True(t, rates[0].Charge.Equal(money("500.25")))
	assert.NoError(t, s.SaveRate(ctx, payout.ServiceRate{ID: "r-free", ServiceID: "svc-photo", Charge: money("0")}))
}

func TestSQLite_MalformedStoredAmountIsAnError(t *testing.T) {
	// GIVEN: a balance column corrupted outside the store
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "payout.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	seed(t, s, "0")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	_, err = raw.ExecContext(ctx, `UPDATE employees SET extra_amount = 'garbage' WHERE id = 'emp-1'`)
	require.NoError(t, err)

	// WHEN: reading it back, directly and through a payment
	_, readErr := s.GetEmployee(ctx, "emp-1")
	_, payErr := newAllocator(s).Allocate(ctx, payout.PaymentRequest{EmployeeID: "emp-1", Amount: money("5")})

	// THEN: both fail and the row is not overwritten with zero
	require.Error(t, readErr)
	assert.Contains(t, readErr.Error(), "extra_amount")
	require.Error(t, payErr)

	var extra string
	require.NoError(t, raw.QueryRowContext(ctx, `SELECT extra_amount FROM employees WHERE id = 'emp-1'`).Scan(&extra))
	assert.Equal(t, "garbage", extra)

	payments, err := s.ListPayments(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "0")

	require.NoError(t, s.Reset(ctx))

	emps, err := s.ListEmployees(ctx, "vendor-1", false)
	require.NoError(t, err)
	assert.Empty(t, emps)
	require.NoError(t, s.Ping(ctx))
}
