package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payout/store"
)

func driftedStore(t *testing.T) *store.TxMemory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewTxMemory()
	require.NoError(t, LoadScenario(ctx, mem, "strict-fifo"))
	// video rate drops from 300 to 250 after totals were stored
	require.NoError(t, mem.SaveRate(ctx, payout.ServiceRate{ID: "rate-svc-video", ServiceID: "svc-video", Charge: payout.MustParseMoney("250")}))
	return mem
}

func TestScheduler_RunNowReportsOnly(t *testing.T) {
	mem := driftedStore(t)
	rs := NewReconciliationScheduler(payout.NewReconciler(mem, nil), nil)

	run := rs.RunNow()

	require.NoError(t, run.Err)
	assert.Equal(t, 1, run.Result.Checked)
	require.Len(t, run.Result.Drifted, 1)
	assert.False(t, run.Result.Drifted[0].Repaired)
	assert.Equal(t, run, rs.LastRun())

	emp, err := mem.GetEmployee(context.Background(), "emp-casey")
	require.NoError(t, err)
	assert.Equal(t, "800", emp.Balances.TotalRemaining.String())
}

func TestScheduler_RepairAndLifecycle(t *testing.T) {
	// GIVEN: repair enabled and a short interval
	mem := driftedStore(t)
	rs := NewReconciliationScheduler(payout.NewReconciler(mem, nil), nil)
	rs.CheckInterval = 10 * time.Millisecond
	rs.Repair = true

	// WHEN: started, the first sweep runs immediately
	rs.Start()
	rs.Start()
	assert.Eventually(t, func() bool {
		emp, err := mem.GetEmployee(context.Background(), "emp-casey")
		return err == nil && emp.Balances.TotalRemaining.String() == "750"
	}, time.Second, 5*time.Millisecond)

	// THEN: stop waits for the loop and is safe to repeat
	rs.Stop()
	rs.Stop()
	assert.NoError(t, rs.LastRun().Err)
}

func TestScheduler_Disabled(t *testing.T) {
	rs := NewReconciliationScheduler(payout.NewReconciler(store.NewTxMemory(), nil), nil)
	rs.Enabled = false

	rs.Start()
	rs.Stop()

	assert.True(t, rs.LastRun().StartedAt.IsZero())
}
