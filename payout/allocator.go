/*
allocator.go - Payment allocator: applies a Plan inside one transaction

PURPOSE:
  Allocate is the only write path for balances, assignment settlement
  and payment history. It validates the request, then inside WithTx:

    1. LockEmployee (ErrEmployeeNotFound if absent)
    2. Read the unpaid ledger with rates resolved now
    3. PlanAllocation (pure)
    4. AppendPayment for the full amount
    5. MarkAssignmentPaid for every settled entry
    6. UpdateBalances with the plan's totals

  Any error rolls back all of it. There is no partial settlement.

BALANCES:
  Totals are carried forward from the locked row, never recomputed from
  the ledger. Recomputing would double-count history; drift detection
  lives in balance.go.

IDEMPOTENCY:
  Allocate is not idempotent. Two calls with the same request record
  two payments. Callers dedupe with an idempotency key (api layer).
*/
package payout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentResult is what a successful allocation returns.
type PaymentResult struct {
	Payment  PaymentHistory
	Employee Employee
	Settled  []LedgerEntry
	Absorbed decimal.Decimal
	Policy   Policy
	// Skipped lists explicitly selected ids that were not unpaid.
	Skipped []AssignmentID
}

// Allocator applies payments to an employee's ledger.
type Allocator struct {
	Store  TxStore
	Logger *slog.Logger
	// Now is the allocation clock. Defaults to time.Now in UTC.
	Now func() time.Time
	// NewPaymentID defaults to a random UUID.
	NewPaymentID func() PaymentID
}

func NewAllocator(store TxStore, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		Store:        store,
		Logger:       logger,
		Now:          func() time.Time { return time.Now().UTC() },
		NewPaymentID: func() PaymentID { return PaymentID(uuid.NewString()) },
	}
}

// Allocate records one payment and distributes it according to the
// request's policy.
func (a *Allocator) Allocate(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return PaymentResult{}, err
	}

	now := a.Now()
	paidAt := now
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	var result PaymentResult
	err := a.Store.WithTx(ctx, func(tx Store) error {
		emp, err := tx.LockEmployee(ctx, req.EmployeeID)
		if err != nil {
			return persistenceErr("lock employee", err)
		}

		unpaid, err := NewAssignmentLedger(tx).UnpaidAssignments(ctx, emp.ID)
		if err != nil {
			return persistenceErr("load unpaid assignments", err)
		}

		plan := PlanAllocation(emp.Balances, unpaid, req)

		payment := PaymentHistory{
			ID:         a.NewPaymentID(),
			EmployeeID: emp.ID,
			Amount:     req.Amount,
			PaidAt:     paidAt,
			CreatedAt:  now,
		}
		if err := tx.AppendPayment(ctx, payment); err != nil {
			return persistenceErr("append payment", err)
		}

		for i := range plan.Settled {
			if err := tx.MarkAssignmentPaid(ctx, plan.Settled[i].ID, now); err != nil {
				if errors.Is(err, ErrAlreadyPaid) {
					err = errors.Join(ErrConcurrentModification, err)
				}
				return persistenceErr("mark assignment paid", err)
			}
			settledAt := now
			plan.Settled[i].IsPaid = true
			plan.Settled[i].PaidAt = &settledAt
		}

		if err := tx.UpdateBalances(ctx, emp.ID, plan.After); err != nil {
			return persistenceErr("update balances", err)
		}

		emp.Balances = plan.After
		result = PaymentResult{
			Payment:  payment,
			Employee: emp,
			Settled:  plan.Settled,
			Absorbed: plan.Absorbed,
			Policy:   plan.Policy,
			Skipped:  plan.Skipped,
		}
		return nil
	})
	if err != nil {
		a.Logger.Warn("payment allocation failed",
			"employeeId", req.EmployeeID,
			"amount", req.Amount.String(),
			"err", err)
		return PaymentResult{}, persistenceErr("allocate", err)
	}

	a.Logger.Info("payment allocated",
		"employeeId", req.EmployeeID,
		"paymentId", result.Payment.ID,
		"policy", result.Policy,
		"amount", req.Amount.String(),
		"settled", len(result.Settled),
		"absorbed", result.Absorbed.String(),
		"extraAmount", result.Employee.Balances.ExtraAmount.String())
	for _, s := range result.Settled {
		if s.ZeroCharge {
			a.Logger.Warn("settled assignment has no resolvable rate",
				"assignmentId", s.ID, "serviceId", s.ServiceID, "employeeId", s.EmployeeID)
		}
	}
	if len(result.Skipped) > 0 {
		a.Logger.Info("explicit selection skipped ids",
			"employeeId", req.EmployeeID, "skipped", result.Skipped)
	}
	return result, nil
}
