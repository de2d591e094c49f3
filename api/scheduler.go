/*
scheduler.go - Background balance drift sweep

PURPOSE:
  Periodically recomputes every employee's TotalRemaining from the
  unpaid ledger and compares it with the stored value. Drift is logged;
  with Repair enabled the stored value is rewritten.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Each sweep gets its own timeout so a slow store cannot pile up runs
  - Repair locks each employee like a payment does, so it never races
    an allocation

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - Repair: Rewrite drifted totals (default: false, report only)

USAGE:
  scheduler := NewReconciliationScheduler(reconciler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - payout/balance.go: Reconciler.Sweep
  - handlers.go: VendorDrift / ReconcileEmployee (manual checks)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/payout-engine/payout"
)

// ReconciliationScheduler runs Reconciler.Sweep on a ticker.
type ReconciliationScheduler struct {
	Reconciler    *payout.Reconciler
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool
	Repair        bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun SchedulerRun
}

// SchedulerRun is the outcome of the most recent sweep.
type SchedulerRun struct {
	StartedAt time.Time
	Result    payout.SweepResult
	Err       error
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(reconciler *payout.Reconciler, logger *slog.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationScheduler{
		Reconciler:    reconciler,
		Logger:        logger.With("component", "scheduler"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("drift sweep disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("drift sweep started", "interval", rs.CheckInterval, "repair", rs.Repair)
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.ticker = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.Logger.Info("drift sweep stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	rs.RunNow()
	for {
		select {
		case <-ticker.C:
			rs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously.
func (rs *ReconciliationScheduler) RunNow() SchedulerRun {
	timeout := rs.CheckInterval
	if timeout <= 0 || timeout > 10*time.Minute {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	run := SchedulerRun{StartedAt: time.Now().UTC()}
	run.Result, run.Err = rs.Reconciler.Sweep(ctx, rs.Repair)
	if run.Err != nil {
		rs.Logger.Error("drift sweep failed", "err", run.Err)
	} else if len(run.Result.Drifted) > 0 || run.Result.Failed > 0 {
		rs.Logger.Warn("drift sweep completed",
			"checked", run.Result.Checked,
			"drifted", len(run.Result.Drifted),
			"repaired", run.Result.Repaired,
			"failed", run.Result.Failed)
	} else {
		rs.Logger.Debug("drift sweep completed", "checked", run.Result.Checked)
	}

	rs.mu.Lock()
	rs.lastRun = run
	rs.mu.Unlock()
	return run
}

// LastRun returns the outcome of the most recent sweep.
func (rs *ReconciliationScheduler) LastRun() SchedulerRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}
