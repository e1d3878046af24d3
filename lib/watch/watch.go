// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch runs the background scan loop. The watcher is a
// two-state machine: stopped until started, running until stopped or
// its context ends. Each cycle scans, optionally escalates to a
// cleanup matching the utilization band, and only then schedules the
// next cycle, so slow filesystems can never produce overlapping
// scans. A cron sweep schedule, when configured, additionally runs
// archive retention sweeps at their wall-clock times, checked after
// each cycle.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw-foundation/curator/lib/archive"
	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/cron"
	"github.com/openclaw-foundation/curator/lib/emergency"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/prune"
	"github.com/openclaw-foundation/curator/lib/usage"
)

var (
	// ErrAlreadyRunning is returned by Start on a running watcher.
	ErrAlreadyRunning = errors.New("watcher already running")

	// ErrNotRunning is returned by Stop on a stopped watcher.
	ErrNotRunning = errors.New("watcher not running")
)

// State is the watcher's lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Scanner measures the store. Satisfied by *usage.Monitor.
type Scanner interface {
	Scan(ctx context.Context) (*usage.Snapshot, error)
}

// Cleaner runs a pruning strategy. Satisfied by *prune.Pruner.
type Cleaner interface {
	Prune(ctx context.Context, strategy prune.Strategy, reason string) (*prune.Result, error)
}

// Rescuer runs the emergency path. Satisfied by *emergency.Handler.
type Rescuer interface {
	Execute(ctx context.Context) (*emergency.Report, error)
}

// Sweeper deletes expired bundles. Satisfied by *archive.Archiver.
type Sweeper interface {
	SweepExpired(ctx context.Context) (*archive.SweepResult, error)
}

// Status is a point-in-time view of the watcher for external
// queries.
type Status struct {
	State       State        `json:"state"`
	StartedAt   time.Time    `json:"started_at"`
	Ticks       uint64       `json:"ticks"`
	Cleanups    uint64       `json:"cleanups"`
	Sweeps      uint64       `json:"sweeps"`
	LastTick    time.Time    `json:"last_tick"`
	LastCleanup time.Time    `json:"last_cleanup"`
	LastSweep   time.Time    `json:"last_sweep"`
	NextSweep   time.Time    `json:"next_sweep"`
	LastStatus  usage.Status `json:"last_status,omitempty"`
}

// Watcher polls the store and escalates. Configuration is fixed at
// construction; changing the poll interval requires a stop and a new
// Start.
type Watcher struct {
	scanner Scanner
	cleaner Cleaner
	rescuer Rescuer
	sweeper Sweeper
	cfg     policy.WatchConfig
	clk     clock.Clock
	logger  *slog.Logger

	sweepSchedule cron.Schedule
	sweepEnabled  bool

	mu          sync.Mutex
	state       State
	startedAt   time.Time
	ticks       uint64
	cleanups    uint64
	sweeps      uint64
	lastTick    time.Time
	lastCleanup time.Time
	lastSweep   time.Time
	nextSweep   time.Time
	lastStatus  usage.Status
	stop        chan struct{}
	done        chan struct{}
}

// New builds a stopped Watcher. The cleaner and rescuer are required
// when auto-cleanup is enabled, and the sweeper when a sweep schedule
// is set; a watch-only configuration may omit all three.
func New(scanner Scanner, cleaner Cleaner, rescuer Rescuer, sweeper Sweeper,
	cfg policy.WatchConfig, clk clock.Clock, logger *slog.Logger) (*Watcher, error) {
	if scanner == nil {
		return nil, errors.New("watch: scanner is required")
	}
	if cfg.AutoCleanup && (cleaner == nil || rescuer == nil) {
		return nil, errors.New("watch: auto_cleanup requires a cleaner and a rescuer")
	}
	schedule, scheduled := cfg.SweepTimes()
	if scheduled && sweeper == nil {
		return nil, errors.New("watch: sweep_schedule requires a sweeper")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		scanner:       scanner,
		cleaner:       cleaner,
		rescuer:       rescuer,
		sweeper:       sweeper,
		cfg:           cfg,
		clk:           clk,
		logger:        logger,
		sweepSchedule: schedule,
		sweepEnabled:  scheduled,
		state:         StateStopped,
	}, nil
}

// Start launches the loop. The first scan runs immediately; every
// later scan is scheduled one poll interval after the previous cycle
// finishes. The loop ends when Stop is called or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateRunning {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.state = StateRunning
	w.startedAt = w.clk.Now()
	if w.sweepEnabled {
		if next, err := w.sweepSchedule.Next(w.startedAt); err == nil {
			w.nextSweep = next
		} else {
			// Validate accepts only parseable schedules; an
			// unsatisfiable one (Feb 31) disables sweeping.
			w.sweepEnabled = false
			w.logger.Warn("sweep schedule has no future occurrence, disabling sweeps",
				"schedule", w.cfg.SweepSchedule, "error", err)
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	w.stop, w.done = stop, done
	w.mu.Unlock()

	w.logger.Info("watcher started",
		"poll", w.cfg.PollInterval(),
		"auto_cleanup", w.cfg.AutoCleanup,
		"sweep_schedule", w.cfg.SweepSchedule)
	go w.run(ctx, stop, done)
	return nil
}

// Stop halts the loop and waits for the in-flight cycle, if any, to
// complete. There is no hard cancel of a cycle already underway.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return ErrNotRunning
	}
	w.state = StateStopped
	stop, done := w.stop, w.done
	w.mu.Unlock()

	close(stop)
	<-done
	w.logger.Info("watcher stopped")
	return nil
}

// Status reports the watcher's counters and state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		State:       w.state,
		StartedAt:   w.startedAt,
		Ticks:       w.ticks,
		Cleanups:    w.cleanups,
		Sweeps:      w.sweeps,
		LastTick:    w.lastTick,
		LastCleanup: w.lastCleanup,
		LastSweep:   w.lastSweep,
		NextSweep:   w.nextSweep,
		LastStatus:  w.lastStatus,
	}
}

func (w *Watcher) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		w.mu.Lock()
		// A restarted watcher owns new channels; only the current
		// incarnation may flip the state back.
		if w.done == done {
			w.state = StateStopped
		}
		w.mu.Unlock()
	}()
	for {
		w.cycle(ctx)
		w.maybeSweep(ctx)
		select {
		case <-w.clk.After(w.cfg.PollInterval()):
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cycle runs one scan and, when enabled, the escalation matching the
// store's status band.
func (w *Watcher) cycle(ctx context.Context) {
	snapshot, err := w.scanner.Scan(ctx)

	w.mu.Lock()
	w.ticks++
	w.lastTick = w.clk.Now()
	if err == nil {
		w.lastStatus = snapshot.Status
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("scan failed", "error", err)
		return
	}
	w.logger.Debug("scan complete",
		"status", snapshot.Status,
		"utilization", snapshot.Utilization,
		"sessions", snapshot.Count())

	if !w.cfg.AutoCleanup || snapshot.Status == usage.StatusOK {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout())
	defer cancel()

	switch snapshot.Status {
	case usage.StatusCritical:
		w.logger.Warn("critical utilization, escalating to emergency cleanup",
			"utilization", snapshot.Utilization)
		if _, err := w.rescuer.Execute(opCtx); err != nil {
			w.logger.Error("emergency cleanup failed", "error", err)
		}
	case usage.StatusWarning:
		if _, err := w.cleaner.Prune(opCtx, prune.StrategyAggressive, "auto-cleanup"); err != nil {
			w.logger.Error("aggressive cleanup failed", "error", err)
		}
	case usage.StatusModerate:
		if _, err := w.cleaner.Prune(opCtx, prune.StrategyConservative, "auto-cleanup"); err != nil {
			w.logger.Error("conservative cleanup failed", "error", err)
		}
	}

	w.mu.Lock()
	w.cleanups++
	w.lastCleanup = w.clk.Now()
	w.mu.Unlock()
}

// maybeSweep runs an archive retention sweep when the schedule's next
// occurrence has passed. Sweep resolution is bounded by the poll
// interval: a due sweep runs on the first cycle at or after its
// scheduled time.
func (w *Watcher) maybeSweep(ctx context.Context) {
	if !w.sweepEnabled {
		return
	}
	now := w.clk.Now()
	w.mu.Lock()
	due := !now.Before(w.nextSweep)
	w.mu.Unlock()
	if !due {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout())
	defer cancel()

	result, err := w.sweeper.SweepExpired(opCtx)
	if err != nil {
		w.logger.Error("scheduled sweep failed", "error", err)
	} else if result.Deleted > 0 {
		w.logger.Info("scheduled sweep complete",
			"deleted", result.Deleted,
			"freed_bytes", result.FreedBytes)
	}

	next, nextErr := w.sweepSchedule.Next(now)
	w.mu.Lock()
	w.sweeps++
	w.lastSweep = now
	if nextErr == nil {
		w.nextSweep = next
	} else {
		w.sweepEnabled = false
	}
	w.mu.Unlock()
}
