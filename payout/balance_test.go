package payout_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
)

func TestReconciler_CheckDetectsRateChange(t *testing.T) {
	// GIVEN: stored remaining 500 from an old rate, current rate 400
	// WHEN: checking drift
	// THEN: drift of +100 reported, nothing written
	f := newFixture(t)
	f.employee("emp-1", bal("0", "500", "0"))
	f.defaultRate("svc-photo", "400")
	f.assign("a-1", "emp-1", "svc-photo", day(time.January, 1))
	f.assign("a-free", "emp-1", "svc-video", day(time.January, 2))
	r := payout.NewReconciler(f.store, nil)

	d, err := r.Check(f.ctx, "emp-1")
	require.NoError(t, err)

	assert.True(t, d.HasDrift())
	requireMoney(t, "500", d.Stored)
	requireMoney(t, "400", d.Computed)
	requireMoney(t, "100", d.Delta())
	assert.Equal(t, 2, d.Unpaid)
	assert.Equal(t, 1, d.ZeroCharge)
	assert.False(t, d.Repaired)
	requireMoney(t, "500", f.balances("emp-1").TotalRemaining)
}

func TestReconciler_RepairOnlyTouchesRemaining(t *testing.T) {
	f := newFixture(t)
	f.employee("emp-1", bal("70", "500", "-30"))
	f.defaultRate("svc-photo", "400")
	f.assign("a-1", "emp-1", "svc-photo", day(time.January, 1))
	r := payout.NewReconciler(f.store, nil)

	d, err := r.Repair(f.ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, d.Repaired)

	b := f.balances("emp-1")
	requireMoney(t, "400", b.TotalRemaining)
	requireMoney(t, "70", b.TotalPaid)
	requireMoney(t, "-30", b.ExtraAmount)

	again, err := r.Repair(f.ctx, "emp-1")
	require.NoError(t, err)
	assert.False(t, again.Repaired)
}

func TestReconciler_CheckVendorAndNotFound(t *testing.T) {
	f := statsFixture(t)
	r := payout.NewReconciler(f.store, nil)

	drifts, err := r.CheckVendor(f.ctx, "vendor-1")
	require.NoError(t, err)
	assert.Len(t, drifts, 3)

	_, err = r.Check(f.ctx, "ghost")
	assert.ErrorIs(t, err, payout.ErrEmployeeNotFound)
	_, err = r.Repair(f.ctx, "ghost")
	assert.ErrorIs(t, err, payout.ErrEmployeeNotFound)
}

func TestReconciler_Sweep(t *testing.T) {
	// GIVEN: two vendors, one employee on each with a stale remaining total
	f := newFixture(t)
	f.employeeFor("vendor-1", "emp-1", "Alice", true, bal("0", "900", "0"))
	f.employeeFor("vendor-2", "emp-2", "Bob", false, bal("0", "400", "0"))
	f.defaultRate("svc-photo", "400")
	f.assign("a-1", "emp-1", "svc-photo", day(time.January, 1))
	f.assign("a-2", "emp-2", "svc-photo", day(time.January, 2))
	r := payout.NewReconciler(f.store, nil)

	// WHEN: sweeping without repair
	res, err := r.Sweep(f.ctx, false)
	require.NoError(t, err)

	// THEN: only the drifted employee is reported, nothing is written
	assert.Equal(t, 2, res.Checked)
	require.Len(t, res.Drifted, 1)
	assert.Equal(t, payout.EmployeeID("emp-1"), res.Drifted[0].EmployeeID)
	assert.Zero(t, res.Repaired)
	requireMoney(t, "900", f.balances("emp-1").TotalRemaining)

	// WHEN: sweeping with repair
	res, err = r.Sweep(f.ctx, true)
	require.NoError(t, err)

	// THEN: the stored total is rewritten
	assert.Equal(t, 1, res.Repaired)
	assert.True(t, res.Drifted[0].Repaired)
	requireMoney(t, "400", f.balances("emp-1").TotalRemaining)
}
