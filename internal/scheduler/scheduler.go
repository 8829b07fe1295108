// Package scheduler drives the periodic risk evaluation loop.
//
// One cycle fetches every known account and, for each: reads the latest
// threshold snapshot, pulls the account's trade window, computes statistics,
// score and signals, persists the snapshot, and raises an alert when the
// score crosses the configured threshold. Accounts are independent: a
// failure in one never aborts the cycle, and a cycle-level failure never
// stops the loop. Only cancellation does.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/propguard/riskwatch/internal/config"
	"github.com/propguard/riskwatch/internal/logging"
	"github.com/propguard/riskwatch/internal/metrics"
	"github.com/propguard/riskwatch/internal/risk"
	"github.com/propguard/riskwatch/internal/traces"
)

// Alerter receives the snapshot of an account whose score exceeded the alert
// threshold. Implementations must isolate their own failures; the scheduler
// does not inspect alert outcomes.
type Alerter interface {
	Alert(ctx context.Context, snap *risk.Snapshot)
}

// Scheduler runs the evaluation loop.
type Scheduler struct {
	trades    risk.TradeStore
	snapshots risk.SnapshotStore
	runtime   *config.Runtime
	alerters  []Alerter
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// New creates a scheduler. Alerters are invoked in order for every breach.
func New(trades risk.TradeStore, snapshots risk.SnapshotStore, runtime *config.Runtime,
	interval time.Duration, logger *slog.Logger, alerters ...Alerter) *Scheduler {
	return &Scheduler{
		trades:    trades,
		snapshots: snapshots,
		runtime:   runtime,
		alerters:  alerters,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}, 1),
	}
}

// Running reports whether the evaluation loop is active. Used by the health
// endpoint instead of a shared task variable.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start runs an immediate first cycle, then one per interval, until ctx is
// cancelled or Stop is called. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	metrics.SchedulerRunning.Set(1)
	defer func() {
		s.running.Store(false)
		metrics.SchedulerRunning.Set(0)
	}()

	s.safeRunCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", "reason", "context cancelled")
			return
		case <-s.stop:
			s.logger.Info("scheduler stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			s.safeRunCycle(ctx)
		}
	}
}

// Stop signals the loop to stop at the next safe point.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

// cancelled reports whether a cancellation signal is pending. Checked between
// per-account evaluations so shutdown never interrupts a calculate-score-
// persist sequence mid-flight.
func (s *Scheduler) cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.stop:
		// Re-arm so the Start loop also observes the stop.
		s.Stop()
		return true
	default:
		return false
	}
}

func (s *Scheduler) safeRunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in evaluation cycle", "panic", fmt.Sprint(r))
			metrics.CyclesTotal.WithLabelValues("error").Inc()
		}
	}()
	s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	ctx, span := traces.StartSpan(ctx, "scheduler.cycle")
	defer span.End()

	start := time.Now()
	s.logger.Info("starting risk evaluation cycle")

	accounts, err := s.trades.ListAccounts(ctx)
	if err != nil {
		s.logger.Error("failed to list accounts, skipping cycle", "error", err)
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		return
	}
	span.SetAttributes(traces.CycleAccounts(len(accounts)))

	evaluated := 0
	for _, account := range accounts {
		if s.cancelled(ctx) {
			s.logger.Info("cycle interrupted by cancellation", "evaluated", evaluated)
			return
		}
		if s.safeEvaluateAccount(ctx, account.Login) {
			evaluated++
		}
	}

	elapsed := time.Since(start)
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())
	s.logger.Info("completed risk evaluation cycle",
		"accounts", len(accounts),
		"evaluated", evaluated,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// safeEvaluateAccount evaluates one account, converting a panic (malformed
// trade data, arithmetic faults) into a logged skip. Reports whether a
// snapshot was persisted.
func (s *Scheduler) safeEvaluateAccount(ctx context.Context, login int64) (persisted bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic evaluating account", "login", login, "panic", fmt.Sprint(r))
		}
	}()
	return s.evaluateAccount(ctx, login)
}

func (s *Scheduler) evaluateAccount(ctx context.Context, login int64) bool {
	ctx, span := traces.StartSpan(ctx, "scheduler.evaluate", traces.AccountLogin(login))
	defer span.End()

	log := logging.ForAccount(s.logger, login)

	// Thresholds are snapshot-read per account: an admin update lands
	// between accounts, never inside one evaluation.
	th := s.runtime.Snapshot()

	window, err := s.trades.RecentTrades(ctx, login, th.WindowSize)
	if err != nil {
		log.Error("failed to fetch trade window", "error", err)
		metrics.EvaluationErrorsTotal.WithLabelValues("fetch").Inc()
		return false
	}
	if len(window) == 0 {
		log.Debug("no trades, skipping account")
		metrics.AccountsSkippedTotal.Inc()
		return false
	}
	span.SetAttributes(traces.WindowSize(len(window)))

	snap := risk.Evaluate(login, window, th, time.Now().UTC())

	if err := s.snapshots.Save(ctx, snap); err != nil {
		log.Error("failed to persist snapshot", "error", err)
		metrics.EvaluationErrorsTotal.WithLabelValues("persist").Inc()
		return false
	}
	metrics.SnapshotsTotal.Inc()
	span.SetAttributes(traces.RiskScore(snap.RiskScore))

	if snap.RiskScore > th.AlertScore {
		log.Warn("risk threshold exceeded",
			"score", snap.RiskScore,
			"signals", snap.RiskSignals,
		)
		metrics.AlertsTotal.Inc()
		for _, a := range s.alerters {
			a.Alert(ctx, snap)
		}
	}

	return true
}
