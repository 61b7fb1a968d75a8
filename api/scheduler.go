/*
scheduler.go - Automated arrears sweep

PURPOSE:
  Periodically compares every disbursed loan's repayments with its
  amortization schedule and flips loans between disbursed and in_arrears.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Each run is bounded by the interval so a slow store cannot stack runs
  - Records the last run for GET /api/admin/arrears

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewArrearsScheduler(loanService, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - loans/service.go: SweepArrears
  - handlers.go: PortfolioReport lists loans in arrears
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/warp/vsla-engine/loans"
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsla_arrears_sweeps_total",
		Help: "Arrears sweeps by outcome.",
	}, []string{"outcome"})
	loansFlaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vsla_loans_flagged_in_arrears_total",
		Help: "Loans moved to in_arrears by the sweep.",
	})
)

// Sweeper is the part of the loan service the scheduler drives.
type Sweeper interface {
	SweepArrears(ctx context.Context, now time.Time) (loans.SweepResult, error)
}

// SweepRun is the outcome of one sweep.
type SweepRun struct {
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Result      loans.SweepResult `json:"result"`
	Error       string            `json:"error,omitempty"`
}

// ArrearsScheduler runs SweepArrears on a ticker.
type ArrearsScheduler struct {
	Sweeper       Sweeper
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.RWMutex
	lastRun *SweepRun
}

// NewArrearsScheduler creates a scheduler with a one-hour interval.
func NewArrearsScheduler(s Sweeper, log zerolog.Logger) *ArrearsScheduler {
	return &ArrearsScheduler{
		Sweeper:       s,
		CheckInterval: time.Hour,
		Enabled:       true,
		Log:           log,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (as *ArrearsScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.Log.Info().Msg("arrears scheduler disabled")
		return
	}
	if as.ticker != nil {
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.stop = make(chan struct{})
	as.wg.Add(1)
	go as.run()

	as.Log.Info().Dur("interval", as.CheckInterval).Msg("arrears scheduler started")
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (as *ArrearsScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker == nil {
		return
	}
	as.ticker.Stop()
	close(as.stop)
	as.wg.Wait()
	as.ticker = nil
	as.Log.Info().Msg("arrears scheduler stopped")
}

func (as *ArrearsScheduler) run() {
	defer as.wg.Done()

	as.RunNow(context.Background())

	for {
		select {
		case <-as.ticker.C:
			as.RunNow(context.Background())
		case <-as.stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously and returns its record.
func (as *ArrearsScheduler) RunNow(ctx context.Context) SweepRun {
	ctx, cancel := context.WithTimeout(ctx, as.CheckInterval)
	defer cancel()

	run := SweepRun{StartedAt: as.Now().UTC()}
	res, err := as.Sweeper.SweepArrears(ctx, run.StartedAt)
	run.Result = res
	run.CompletedAt = as.Now().UTC()

	if err != nil {
		run.Error = err.Error()
		sweepRunsTotal.WithLabelValues("failed").Inc()
		as.Log.Error().Err(err).Int("checked", res.Checked).Msg("arrears sweep failed")
	} else {
		sweepRunsTotal.WithLabelValues("completed").Inc()
		loansFlaggedTotal.Add(float64(res.InArrears))
		if res.InArrears > 0 || res.Cleared > 0 {
			as.Log.Info().
				Int("checked", res.Checked).
				Int("in_arrears", res.InArrears).
				Int("cleared", res.Cleared).
				Msg("arrears sweep completed")
		}
	}

	as.lastMu.Lock()
	as.lastRun = &run
	as.lastMu.Unlock()
	return run
}

// LastRun returns the most recent sweep, or nil before the first one.
func (as *ArrearsScheduler) LastRun() *SweepRun {
	as.lastMu.RLock()
	defer as.lastMu.RUnlock()
	if as.lastRun == nil {
		return nil
	}
	run := *as.lastRun
	return &run
}

// GetNextRunTime returns when the next scheduled check will occur.
func (as *ArrearsScheduler) GetNextRunTime() time.Time {
	last := as.LastRun()
	if last == nil {
		return as.Now()
	}
	return last.StartedAt.Add(as.CheckInterval)
}

// =============================================================================
// HANDLERS
// =============================================================================

type arrearsStatusDTO struct {
	Enabled  bool      `json:"enabled"`
	Interval string    `json:"interval"`
	LastRun  *SweepRun `json:"last_run"`
	NextRun  string    `json:"next_run"`
}

// Status reports the scheduler state.
// GET /api/admin/arrears
func (as *ArrearsScheduler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, arrearsStatusDTO{
		Enabled:  as.Enabled,
		Interval: as.CheckInterval.String(),
		LastRun:  as.LastRun(),
		NextRun:  formatTime(as.GetNextRunTime()),
	})
}

// Trigger runs a sweep immediately.
// POST /api/admin/arrears/run
func (as *ArrearsScheduler) Trigger(w http.ResponseWriter, r *http.Request) {
	run := as.RunNow(r.Context())
	status := http.StatusOK
	if run.Error != "" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, run)
}
