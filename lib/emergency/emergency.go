// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package emergency implements the terminal escalation path: a full
// backup of every live session followed by an age-based eviction that
// never drops below the minimum-survivor floor. It runs only when
// utilization has crossed the emergency threshold, and it reports
// honestly when even this was not enough.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw-foundation/curator/lib/archive"
	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/notify"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/session"
	"github.com/openclaw-foundation/curator/lib/usage"
)

// Bundler archives a batch of sessions. Satisfied by
// *archive.Archiver.
type Bundler interface {
	Archive(ctx context.Context, records []*session.Record, reason string) (*archive.BundleDescriptor, error)
}

// Remover deletes a session's live file. Satisfied by
// *session.Store.
type Remover interface {
	Remove(record *session.Record) error
}

// Deliverer surfaces reports to the operator. Satisfied by
// *notify.Notifier.
type Deliverer interface {
	Deliver(ctx context.Context, report notify.Report) error
}

// Report is the structured outcome of one emergency run. It is
// produced even when individual deletions fail, so the caller can
// always answer "what happened".
type Report struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	SessionsBefore int    `json:"sessions_before"`
	Archived       int    `json:"archived"`
	Bundle         string `json:"bundle,omitempty"`
	Deleted        int    `json:"deleted"`
	Failed         int    `json:"failed"`
	FreedCost      int64  `json:"freed_cost"`

	UtilizationBefore float64 `json:"utilization_before"`
	UtilizationAfter  float64 `json:"utilization_after"`

	// Success is true only if utilization fell back under the
	// emergency threshold. A false report means manual intervention
	// is needed; the system does not retry on its own.
	Success bool `json:"success"`
}

// Handler runs emergency cleanups.
type Handler struct {
	monitor   *usage.Monitor
	bundler   Bundler
	remover   Remover
	deliverer Deliverer
	cfg       policy.PruneConfig
	threshold float64
	clk       clock.Clock
	logger    *slog.Logger
}

// New builds a Handler. The deliverer may be nil; failed runs are
// then only logged.
func New(monitor *usage.Monitor, bundler Bundler, remover Remover, deliverer Deliverer,
	cfg policy.PruneConfig, thresholds policy.ThresholdConfig, clk clock.Clock, logger *slog.Logger) (*Handler, error) {
	if monitor == nil {
		return nil, errors.New("emergency: monitor is required")
	}
	if bundler == nil {
		return nil, errors.New("emergency: bundler is required")
	}
	if remover == nil {
		return nil, errors.New("emergency: remover is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		monitor:   monitor,
		bundler:   bundler,
		remover:   remover,
		deliverer: deliverer,
		cfg:       cfg,
		threshold: thresholds.EmergencyPercent,
		clk:       clk,
		logger:    logger,
	}, nil
}

// Execute archives every live session, deletes those outside the
// keep-recent window while retaining at least the minimum number of
// survivors, and re-measures. The full backup comes first: if the
// bundle write fails, nothing is deleted and the run errors out.
func (h *Handler) Execute(ctx context.Context) (*Report, error) {
	start := h.clk.Now()
	report := &Report{
		ID:        uuid.NewString(),
		StartedAt: start.UTC(),
	}
	h.logger.Warn("emergency cleanup started", "run", report.ID)

	snapshot, err := h.monitor.Scan(ctx)
	if err != nil {
		return nil, err
	}
	report.SessionsBefore = snapshot.Count()
	report.UtilizationBefore = snapshot.Utilization
	report.UtilizationAfter = snapshot.Utilization

	if snapshot.Count() > 0 {
		records := make([]*session.Record, snapshot.Count())
		for i, su := range snapshot.Sessions {
			records[i] = su.Record
		}
		bundle, err := h.bundler.Archive(ctx, records, "emergency-cleanup")
		if err != nil {
			return nil, fmt.Errorf("emergency archive failed, nothing deleted: %w", err)
		}
		report.Archived = len(records)
		report.Bundle = bundle.Name

		for _, su := range h.selectForDeletion(snapshot.Sessions) {
			if err := h.remover.Remove(su.Record); err != nil {
				h.logger.Warn("failed to delete session during emergency cleanup",
					"session", su.ID, "error", err)
				report.Failed++
				continue
			}
			report.Deleted++
			report.FreedCost += su.Cost
		}
	}

	after, err := h.monitor.Scan(ctx)
	if err != nil {
		h.logger.Warn("post-emergency scan failed", "error", err)
		if snapshot.Budget > 0 {
			report.UtilizationAfter = float64(snapshot.TotalCost-report.FreedCost) / float64(snapshot.Budget) * 100
		}
	} else {
		report.UtilizationAfter = after.Utilization
	}
	report.Success = report.UtilizationAfter < h.threshold
	report.Duration = h.clk.Now().Sub(start)

	h.logger.Warn("emergency cleanup finished",
		"run", report.ID,
		"archived", report.Archived,
		"deleted", report.Deleted,
		"failed", report.Failed,
		"freed_cost", report.FreedCost,
		"utilization_before", fmt.Sprintf("%.1f%%", report.UtilizationBefore),
		"utilization_after", fmt.Sprintf("%.1f%%", report.UtilizationAfter),
		"success", report.Success)

	if !report.Success {
		h.notifyFailure(ctx, report)
	}
	return report, nil
}

// selectForDeletion returns the sessions outside the keep-recent
// window, minus however many of the most recent are needed to keep
// the survivor count at the floor. The engagement floor does not
// apply here.
func (h *Handler) selectForDeletion(sessions []usage.SessionUsage) []usage.SessionUsage {
	keepRecent := h.cfg.KeepRecent()
	floor := h.cfg.KeepMinimumSessions
	if floor < 0 {
		floor = 0
	}

	newestFirst := make([]usage.SessionUsage, len(sessions))
	copy(newestFirst, sessions)
	sort.SliceStable(newestFirst, func(i, j int) bool {
		if !newestFirst[i].Modified.Equal(newestFirst[j].Modified) {
			return newestFirst[i].Modified.After(newestFirst[j].Modified)
		}
		return newestFirst[i].ID < newestFirst[j].ID
	})

	guarded := make(map[string]bool, floor)
	for i := 0; i < len(newestFirst) && i < floor; i++ {
		guarded[newestFirst[i].ID] = true
	}

	var doomed []usage.SessionUsage
	for _, su := range newestFirst {
		if su.Age <= keepRecent || guarded[su.ID] {
			continue
		}
		doomed = append(doomed, su)
	}
	return doomed
}

// notifyFailure surfaces an unsuccessful run to the operator.
// Delivery problems are logged, never propagated: the report itself
// is the source of truth.
func (h *Handler) notifyFailure(ctx context.Context, report *Report) {
	if h.deliverer == nil {
		return
	}
	err := h.deliverer.Deliver(ctx, notify.Report{
		Title:    "emergency cleanup did not clear the threshold",
		Body:     fmt.Sprintf("utilization still at %.1f%% after run %s; manual intervention required", report.UtilizationAfter, report.ID),
		Severity: notify.SeverityCritical,
		Payload:  report,
	})
	if err != nil {
		h.logger.Warn("failed to deliver emergency failure notification",
			"run", report.ID, "error", err)
	}
}
