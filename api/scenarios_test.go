package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payout/store"
)

// Every advertised scenario payment must produce the documented outcome.
func TestScenarios_AdvertisedPaymentOutcome(t *testing.T) {
	tests := []struct {
		id        string
		settled   []payout.AssignmentID
		paid      string
		remaining string
		extra     string
	}{
		{"exact-auto-pay", []payout.AssignmentID{"asg-wedding-photo"}, "1000", "0", "0"},
		{"overpayment", []payout.AssignmentID{"asg-wedding-photo"}, "1500", "0", "500"},
		{"shortfall-credit", nil, "100", "1000", "-100"},
		{"strict-fifo", []payout.AssignmentID{"asg-launch-photo"}, "500", "300", "0"},
		{"explicit-overdraft", []payout.AssignmentID{"asg-festival-drone"}, "300", "1000", "-500"},
	}
	require.Len(t, tests, len(scenarios))

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			// GIVEN: a freshly loaded scenario
			ctx := context.Background()
			mem := store.NewTxMemory()
			require.NoError(t, LoadScenario(ctx, mem, tt.id))
			sc, ok := findScenario(tt.id)
			require.True(t, ok)

			// WHEN: sending the advertised payment
			req, err := parsePayment(sc.payment)
			require.NoError(t, err)
			res, err := payout.NewAllocator(mem, nil).Allocate(ctx, req)
			require.NoError(t, err)

			// THEN: the documented outcome
			var settled []payout.AssignmentID
			for _, s := range res.Settled {
				settled = append(settled, s.ID)
			}
			assert.Equal(t, tt.settled, settled)
			b := res.Employee.Balances
			assert.True(t, payout.MustParseMoney(tt.paid).Equal(b.TotalPaid), "paid %s", b.TotalPaid)
			assert.True(t, payout.MustParseMoney(tt.remaining).Equal(b.TotalRemaining), "remaining %s", b.TotalRemaining)
			assert.True(t, payout.MustParseMoney(tt.extra).Equal(b.ExtraAmount), "extra %s", b.ExtraAmount)

			// stored totals agree with the seeded ledger before any rate change
			d, err := payout.NewReconciler(mem, nil).Check(ctx, req.EmployeeID)
			require.NoError(t, err)
			assert.False(t, d.HasDrift(), "stored %s computed %s", d.Stored, d.Computed)
		})
	}
}

func TestLoadScenario_ResetsPreviousData(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	require.NoError(t, LoadScenario(ctx, mem, "strict-fifo"))
	require.NoError(t, LoadScenario(ctx, mem, "exact-auto-pay"))

	emps, err := mem.ListEmployees(ctx, DemoVendor, false)
	require.NoError(t, err)
	require.Len(t, emps, 1)
	assert.Equal(t, payout.EmployeeID("emp-avery"), emps[0].ID)

	assert.Error(t, LoadScenario(ctx, mem, "no-such-scenario"))
}

func TestScenarioHandlers(t *testing.T) {
	ts := newTestServer(t, "", RouterConfig{})

	list := decode[[]ScenarioDetailDTO](t, ts.do(http.MethodGet, "/api/scenarios", ""))
	assert.Len(t, list, len(scenarios))
	assert.Equal(t, "vendor-demo", list[0].Vendor)

	assert.Equal(t, "null\n", ts.do(http.MethodGet, "/api/scenarios/current", "").Body.String())

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/scenarios/load", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/api/scenarios/load", `{"scenario_id":"nope"}`).Code)

	rec := ts.do(http.MethodPost, "/api/scenarios/load", `{"scenario_id":"strict-fifo"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	current := decode[ScenarioDetailDTO](t, ts.do(http.MethodGet, "/api/scenarios/current", ""))
	assert.Equal(t, "strict-fifo", current.ID)
	assert.Equal(t, "emp-casey", current.Payment.EmployeeID)

	emp := decode[EmployeeDTO](t, ts.do(http.MethodGet, "/api/employees/emp-casey", ""))
	assert.Equal(t, 800.0, emp.Balances.TotalRemaining)
}

func TestScenarioRoutesNeedSeeder(t *testing.T) {
	ts := newTestServer(t, "", RouterConfig{})
	ts.h.Seeder = nil
	router := NewRouter(ts.h, RouterConfig{})
	ts.router = router

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/scenarios", "").Code)
}
