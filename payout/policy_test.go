package payout_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
)

func entry(id payout.AssignmentID, eventDate time.Time, charge string) payout.LedgerEntry {
	return payout.LedgerEntry{
		AssignmentView: payout.AssignmentView{
			Assignment: payout.Assignment{ID: id, EmployeeID: "emp-1", ServiceID: "svc-photo"},
			Booking:    payout.Booking{EventDate: eventDate},
		},
		Charge: money(charge),
	}
}

func TestPolicy_Derivation(t *testing.T) {
	assert.Equal(t, payout.PolicyAutoPay, payout.PaymentRequest{AutoPay: true}.Policy())
	assert.Equal(t, payout.PolicyExplicit, payout.PaymentRequest{AssignmentIDs: []payout.AssignmentID{"a"}}.Policy())
	assert.Equal(t, payout.PolicyCredit, payout.PaymentRequest{}.Policy())
	assert.Equal(t, payout.PolicyCredit, payout.PaymentRequest{AssignmentIDs: []payout.AssignmentID{}}.Policy())
}

func TestPlanAllocation_DebtAbsorbedBeforeAutoPay(t *testing.T) {
	// GIVEN: shortfall 200, one unpaid assignment of 300
	// WHEN: paying 500 with auto-pay
	// THEN: 200 absorbs the shortfall, 300 settles the assignment
	ledger := []payout.LedgerEntry{entry("a-1", day(time.January, 1), "300")}

	plan := payout.PlanAllocation(bal("0", "300", "-200"), ledger, payout.PaymentRequest{
		EmployeeID: "emp-1", Amount: money("500"), AutoPay: true,
	})

	requireMoney(t, "200", plan.Absorbed)
	require.Len(t, plan.Settled, 1)
	requireMoney(t, "0", plan.After.ExtraAmount)
	requireMoney(t, "0", plan.After.TotalRemaining)
	requireMoney(t, "500", plan.After.TotalPaid)
}

func TestPlanAllocation_AbsorptionCapsAtAmount(t *testing.T) {
	ledger := []payout.LedgerEntry{entry("a-1", day(time.January, 1), "0")}

	plan := payout.PlanAllocation(bal("0", "0", "-1000"), ledger, payout.PaymentRequest{
		EmployeeID: "emp-1", Amount: money("250"), AutoPay: true,
	})

	requireMoney(t, "250", plan.Absorbed)
	requireMoney(t, "-750", plan.After.ExtraAmount)
	// zero charge still fits into zero remaining payment
	require.Len(t, plan.Settled, 1)
}

func TestPlanAllocation_ExplicitPreservesSelectionOrder(t *testing.T) {
	ledger := []payout.LedgerEntry{
		entry("a-1", day(time.January, 1), "100"),
		entry("a-2", day(time.January, 2), "200"),
		entry("a-3", day(time.January, 3), "300"),
	}

	plan := payout.PlanAllocation(bal("0", "600", "0"), ledger, payout.PaymentRequest{
		EmployeeID:    "emp-1",
		Amount:        money("1000"),
		AssignmentIDs: []payout.AssignmentID{"a-3", "missing", "a-1", "a-3"},
	})

	require.Len(t, plan.Settled, 2)
	assert.Equal(t, payout.AssignmentID("a-3"), plan.Settled[0].ID)
	assert.Equal(t, payout.AssignmentID("a-1"), plan.Settled[1].ID)
	assert.Equal(t, []payout.AssignmentID{"missing"}, plan.Skipped)
	requireMoney(t, "600", plan.After.ExtraAmount)
	requireMoney(t, "200", plan.After.TotalRemaining)
}

func TestPlanAllocation_ConservationAndMonotonicity(t *testing.T) {
	ledger := []payout.LedgerEntry{
		entry("a-1", day(time.January, 1), "120.50"),
		entry("a-2", day(time.January, 5), "80"),
		entry("a-3", day(time.February, 1), "0"),
		entry("a-4", day(time.March, 1), "999.99"),
	}
	befores := []payout.Balances{
		bal("0", "1200.49", "0"),
		bal("50", "1200.49", "-75.25"),
		bal("10", "1200.49", "300"),
	}
	amounts := []string{"0.01", "80", "120.50", "200.50", "1000", "5000"}
	selections := [][]payout.AssignmentID{nil, {"a-4"}, {"a-2", "a-1"}, {"a-1", "a-1", "zzz"}}

	for _, before := range befores {
		for _, amt := range amounts {
			reqs := []payout.PaymentRequest{
				{EmployeeID: "emp-1", Amount: money(amt)},
				{EmployeeID: "emp-1", Amount: money(amt), AutoPay: true},
			}
			for _, sel := range selections {
				reqs = append(reqs, payout.PaymentRequest{EmployeeID: "emp-1", Amount: money(amt), AssignmentIDs: sel})
			}
			for _, req := range reqs {
				plan := payout.PlanAllocation(before, ledger, req)

				assert.True(t, plan.Conserved(), "conservation: before=%v amount=%s policy=%s", before, amt, plan.Policy)
				assert.True(t, plan.After.TotalPaid.GreaterThan(before.TotalPaid), "monotonicity")
				assert.True(t, plan.After.TotalRemaining.Equal(before.TotalRemaining.Sub(plan.SettledTotal())))
			}
		}
	}
}

func TestPlanAllocation_CreditLeavesLedgerAlone(t *testing.T) {
	ledger := []payout.LedgerEntry{entry("a-1", day(time.January, 1), "10")}

	plan := payout.PlanAllocation(bal("0", "10", "5"), ledger, payout.PaymentRequest{EmployeeID: "emp-1", Amount: money("100")})

	assert.Equal(t, payout.PolicyCredit, plan.Policy)
	assert.Empty(t, plan.Settled)
	requireMoney(t, "105", plan.After.ExtraAmount)
	requireMoney(t, "10", plan.After.TotalRemaining)
}
