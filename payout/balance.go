/*
balance.go - Balance aggregation and offline drift detection

PURPOSE:
  The three balances on the employee row are maintained incrementally by
  the Allocator. Nothing on the payment path recomputes them.

  The Reconciler is the offline counterpart: it recomputes what
  TotalRemaining should be (sum of resolved charges of every currently
  unpaid assignment) and reports the difference against the stored value.

DRIFT SOURCES:
  - Rates edited after assignments were created (charges resolve at read
    time, the stored total reflects older rates)
  - Assignments created or removed by external collaborators without
    adjusting the stored total
  - Zero-charge assignments (no rate) that later gain a rate

REPAIR:
  Repair is opt-in. It locks the employee like a payment does and
  rewrites TotalRemaining only. TotalPaid and ExtraAmount are history and
  are never touched.

SEE ALSO:
  - allocator.go: the incremental update
  - api/scheduler.go: periodic Sweep
*/
package payout

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Drift compares stored and recomputed TotalRemaining for one employee.
type Drift struct {
	EmployeeID EmployeeID
	Stored     decimal.Decimal
	Computed   decimal.Decimal
	// Unpaid is the number of unpaid assignments included in Computed.
	Unpaid int
	// ZeroCharge counts unpaid assignments with no resolvable rate.
	ZeroCharge int
	Repaired   bool
}

// Delta is Stored - Computed.
func (d Drift) Delta() decimal.Decimal { return d.Stored.Sub(d.Computed) }

// HasDrift reports whether stored and computed totals differ.
func (d Drift) HasDrift() bool { return !d.Stored.Equal(d.Computed) }

// Reconciler detects (and optionally repairs) balance drift.
type Reconciler struct {
	Store  TxStore
	Logger *slog.Logger
}

func NewReconciler(store TxStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Store: store, Logger: logger}
}

// Check computes drift for one employee without writing anything.
func (r *Reconciler) Check(ctx context.Context, employeeID EmployeeID) (Drift, error) {
	emp, err := r.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return Drift{}, err
	}
	return computeDrift(ctx, r.Store, emp)
}

// CheckVendor computes drift for every employee of the vendor, active or not.
func (r *Reconciler) CheckVendor(ctx context.Context, vendorID VendorID) ([]Drift, error) {
	emps, err := r.Store.ListEmployees(ctx, vendorID, false)
	if err != nil {
		return nil, err
	}
	out := make([]Drift, 0, len(emps))
	for _, emp := range emps {
		d, err := computeDrift(ctx, r.Store, emp)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Repair rewrites the stored TotalRemaining to the computed value.
func (r *Reconciler) Repair(ctx context.Context, employeeID EmployeeID) (Drift, error) {
	var drift Drift
	err := r.Store.WithTx(ctx, func(tx Store) error {
		emp, err := tx.LockEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		drift, err = computeDrift(ctx, tx, emp)
		if err != nil {
			return err
		}
		if !drift.HasDrift() {
			return nil
		}
		b := emp.Balances
		b.TotalRemaining = drift.Computed
		if err := tx.UpdateBalances(ctx, emp.ID, b); err != nil {
			return err
		}
		drift.Repaired = true
		return nil
	})
	if err != nil {
		return Drift{}, persistenceErr("repair balances", err)
	}
	if drift.Repaired {
		r.Logger.Info("balance drift repaired",
			"employeeId", employeeID,
			"stored", drift.Stored.String(),
			"computed", drift.Computed.String())
	}
	return drift, nil
}

// SweepResult summarises one pass over every vendor.
type SweepResult struct {
	Checked  int
	Drifted  []Drift
	Repaired int
	// Failed counts employees whose repair errored; the sweep continues.
	Failed int
}

// Sweep checks every employee of every vendor. With repair set, drifted
// employees are repaired one transaction at a time.
func (r *Reconciler) Sweep(ctx context.Context, repair bool) (SweepResult, error) {
	var res SweepResult
	vendors, err := r.Store.ListVendors(ctx)
	if err != nil {
		return res, persistenceErr("list vendors", err)
	}
	for _, vendorID := range vendors {
		drifts, err := r.CheckVendor(ctx, vendorID)
		if err != nil {
			return res, persistenceErr("check vendor", err)
		}
		res.Checked += len(drifts)
		for _, d := range drifts {
			if !d.HasDrift() {
				continue
			}
			if repair {
				fixed, err := r.Repair(ctx, d.EmployeeID)
				if err != nil {
					res.Failed++
					r.Logger.Warn("balance repair failed", "employeeId", d.EmployeeID, "err", err)
					res.Drifted = append(res.Drifted, d)
					continue
				}
				if fixed.Repaired {
					res.Repaired++
				}
				d = fixed
			} else {
				r.Logger.Warn("balance drift detected",
					"employeeId", d.EmployeeID,
					"stored", d.Stored.String(),
					"computed", d.Computed.String())
			}
			res.Drifted = append(res.Drifted, d)
		}
	}
	return res, nil
}

func computeDrift(ctx context.Context, store Store, emp Employee) (Drift, error) {
	unpaid, err := NewAssignmentLedger(store).Entries(ctx, AssignmentFilter{EmployeeID: emp.ID, UnpaidOnly: true})
	if err != nil {
		return Drift{}, err
	}
	d := Drift{
		EmployeeID: emp.ID,
		Stored:     emp.Balances.TotalRemaining,
		Computed:   decimal.Zero,
		Unpaid:     len(unpaid),
	}
	for _, e := range unpaid {
		d.Computed = d.Computed.Add(e.Charge)
		if e.ZeroCharge {
			d.ZeroCharge++
		}
	}
	return d, nil
}
