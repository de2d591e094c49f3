/*
policy.go - Payment request, allocation policy and the pure allocation plan

PURPOSE:
  Everything the allocator decides is decided here, without storage.
  PlanAllocation takes the locked employee's balances, the unpaid ledger
  in FIFO order and the request, and returns a Plan. The Allocator only
  persists what the Plan says.

POLICIES:
  PolicyAutoPay:
    - Walk unpaid assignments oldest event first
    - Settle while the remaining payment covers the charge
    - Stop at the first one that does not fit (no skip-ahead)
    - Leftover becomes credit

  PolicyExplicit:
    - Settle every selected id that is currently unpaid
    - Unknown and already-paid ids are skipped
    - extra += remaining - sum(selected charges), which may go negative

  PolicyCredit:
    - No assignment changes; the whole remainder becomes credit

DEBT ABSORPTION:
  Runs before the policy branch, for every policy. A negative
  ExtraAmount is cancelled first with up to the full payment.

CONSERVATION:
  amount == sum(settled charges) + (extra after - extra before) + absorbed
  holds for every plan; see Plan.Conserved.
*/
package payout

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY
// =============================================================================

// Policy selects how a payment is distributed.
type Policy string

const (
	PolicyAutoPay  Policy = "auto_pay"
	PolicyExplicit Policy = "explicit"
	PolicyCredit   Policy = "credit"
)

// =============================================================================
// PAYMENT REQUEST
// =============================================================================

// PaymentRequest is one incoming payment for an employee.
type PaymentRequest struct {
	EmployeeID EmployeeID
	Amount     decimal.Decimal
	// PaidAt defaults to the allocation time when nil.
	PaidAt  *time.Time
	AutoPay bool
	// AssignmentIDs selects assignments to settle explicitly. Empty means
	// no explicit selection.
	AssignmentIDs []AssignmentID
}

// Policy derives the allocation policy from the request flags.
// Call Validate first; a request with both flags set has no policy.
func (r PaymentRequest) Policy() Policy {
	switch {
	case r.AutoPay:
		return PolicyAutoPay
	case len(r.AssignmentIDs) > 0:
		return PolicyExplicit
	default:
		return PolicyCredit
	}
}

// Validate rejects malformed requests before any storage access.
func (r PaymentRequest) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(string(r.EmployeeID)) == "" {
		verr.add("employeeId", "is required")
	}
	switch {
	case !r.Amount.IsPositive():
		verr.add("amount", "must be greater than zero")
	case r.Amount.GreaterThan(MaxAmount):
		verr.add("amount", "must not exceed "+MaxAmount.String())
	}
	if r.AutoPay && len(r.AssignmentIDs) > 0 {
		verr.add("autoPaid", "cannot be combined with an explicit assignment selection")
	}
	for i, id := range r.AssignmentIDs {
		if strings.TrimSpace(string(id)) == "" {
			verr.add("assignmentIds", "entry "+strconv.Itoa(i)+" is empty")
		}
	}
	return verr.orNil()
}

// selection returns AssignmentIDs with duplicates removed, first
// occurrence wins.
func (r PaymentRequest) selection() []AssignmentID {
	seen := make(map[AssignmentID]bool, len(r.AssignmentIDs))
	out := make([]AssignmentID, 0, len(r.AssignmentIDs))
	for _, id := range r.AssignmentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// =============================================================================
// PLAN
// =============================================================================

// Plan is the outcome of an allocation before it is persisted.
type Plan struct {
	Policy Policy
	Amount decimal.Decimal
	// Absorbed is the part of Amount that cancelled a prior shortfall.
	Absorbed decimal.Decimal
	// Settled are the entries to flip to paid, in settlement order.
	Settled []LedgerEntry
	// Skipped lists explicitly selected ids that were not unpaid for the
	// employee.
	Skipped []AssignmentID
	Before  Balances
	After   Balances
}

// SettledTotal is the sum of charges of the settled entries.
func (p Plan) SettledTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Settled {
		total = total.Add(e.Charge)
	}
	return total
}

// Conserved reports whether the plan accounts for every unit of Amount.
// The extra delta is measured from the post-absorption balance so the
// absorbed part is not counted twice.
func (p Plan) Conserved() bool {
	afterAbsorb := p.Before.ExtraAmount.Add(p.Absorbed)
	delta := p.After.ExtraAmount.Sub(afterAbsorb)
	return p.Amount.Equal(p.SettledTotal().Add(delta).Add(p.Absorbed))
}

// PlanAllocation runs the allocation algorithm. unpaid must be the
// employee's unpaid ledger in FIFO order (see SortFIFO).
func PlanAllocation(before Balances, unpaid []LedgerEntry, req PaymentRequest) Plan {
	plan := Plan{
		Policy: req.Policy(),
		Amount: req.Amount,
		Before: before,
	}

	remaining := req.Amount
	extra := before.ExtraAmount
	remainingDebt := before.TotalRemaining

	// Debt absorption
	if extra.IsNegative() {
		absorbed := decimal.Min(extra.Abs(), remaining)
		extra = extra.Add(absorbed)
		remaining = remaining.Sub(absorbed)
		plan.Absorbed = absorbed
	} else {
		plan.Absorbed = decimal.Zero
	}

	switch plan.Policy {
	case PolicyAutoPay:
		for _, e := range unpaid {
			if remaining.LessThan(e.Charge) {
				break
			}
			plan.Settled = append(plan.Settled, e)
			remaining = remaining.Sub(e.Charge)
			remainingDebt = remainingDebt.Sub(e.Charge)
		}
		extra = extra.Add(remaining)

	case PolicyExplicit:
		byID := make(map[AssignmentID]LedgerEntry, len(unpaid))
		for _, e := range unpaid {
			byID[e.ID] = e
		}
		serviceTotal := decimal.Zero
		for _, id := range req.selection() {
			e, ok := byID[id]
			if !ok {
				plan.Skipped = append(plan.Skipped, id)
				continue
			}
			plan.Settled = append(plan.Settled, e)
			serviceTotal = serviceTotal.Add(e.Charge)
			remainingDebt = remainingDebt.Sub(e.Charge)
		}
		extra = extra.Add(remaining.Sub(serviceTotal))

	default:
		extra = extra.Add(remaining)
	}

	plan.After = Balances{
		TotalPaid:      before.TotalPaid.Add(req.Amount),
		TotalRemaining: remainingDebt,
		ExtraAmount:    extra,
	}
	return plan
}
