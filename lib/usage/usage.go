// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package usage measures the session store against the token budget.
// A scan walks the store, estimates every session's cost, and folds
// the results into an immutable Snapshot: totals, utilization, the
// store status, and a per-session breakdown with priority tags.
//
// Costs are recomputed from disk on every scan. Nothing here caches:
// two scans of an unchanged store produce equal snapshots, and a scan
// after any store change reflects that change.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/session"
)

// Status is the store's escalation band.
type Status string

const (
	// StatusOK means utilization is below every threshold.
	StatusOK Status = "ok"
	// StatusModerate means utilization crossed the moderate floor.
	StatusModerate Status = "moderate"
	// StatusWarning means utilization crossed the alert floor.
	StatusWarning Status = "warning"
	// StatusCritical means utilization crossed the emergency floor.
	StatusCritical Status = "critical"
)

// Priority tags a session's eviction weight from cheap metadata.
type Priority string

const (
	// PriorityHigh marks fresh, busy sessions: active within the
	// last day with more than ten messages.
	PriorityHigh Priority = "high"
	// PriorityMedium marks sessions active within the last week or
	// with more than five messages.
	PriorityMedium Priority = "medium"
	// PriorityLow marks everything else.
	PriorityLow Priority = "low"
)

// Fixed tagging windows. These are deliberately not configurable: the
// tags are a coarse triage signal, and tying them to the prune
// horizons would make the tag meaning drift with tuning.
const (
	priorityFreshWindow  = 24 * time.Hour
	priorityActiveWindow = 7 * 24 * time.Hour
	priorityFreshFloor   = 10
	priorityActiveFloor  = 5
)

// SessionUsage is one session's share of the snapshot.
type SessionUsage struct {
	*session.Record

	// Age at snapshot time.
	Age time.Duration

	// Priority derived from age and message count.
	Priority Priority
}

// Snapshot is the result of one scan. Snapshots are value objects:
// never mutated after construction, safe to share across goroutines.
type Snapshot struct {
	// Taken is the scan time.
	Taken time.Time

	// Budget is the token budget the store is measured against.
	Budget int64

	// TotalCost is the summed estimated cost of every session.
	TotalCost int64

	// Utilization is TotalCost as a percentage of Budget. It
	// exceeds 100 when the store is over budget.
	Utilization float64

	// Status is the escalation band for Utilization.
	Status Status

	// Sessions holds the per-session breakdown, sorted by id.
	Sessions []SessionUsage
}

// Count returns the number of live sessions.
func (s *Snapshot) Count() int { return len(s.Sessions) }

// ByPriority returns how many sessions carry each priority tag.
func (s *Snapshot) ByPriority() map[Priority]int {
	counts := make(map[Priority]int, 3)
	for _, su := range s.Sessions {
		counts[su.Priority]++
	}
	return counts
}

// TopByCost returns the n most expensive sessions, most expensive
// first. The snapshot itself stays untouched.
func (s *Snapshot) TopByCost(n int) []SessionUsage {
	sorted := make([]SessionUsage, len(s.Sessions))
	copy(sorted, s.Sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Cost > sorted[j].Cost
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// Monitor scans the store and produces snapshots.
type Monitor struct {
	store      *session.Store
	budget     policy.BudgetConfig
	thresholds policy.ThresholdConfig
	clk        clock.Clock
	logger     *slog.Logger
}

// NewMonitor returns a Monitor over store. The budget and thresholds
// come from a validated policy. A nil clock falls back to the real
// clock, a nil logger to slog.Default().
func NewMonitor(store *session.Store, budget policy.BudgetConfig, thresholds policy.ThresholdConfig, clk clock.Clock, logger *slog.Logger) (*Monitor, error) {
	if store == nil {
		return nil, fmt.Errorf("usage: store is required")
	}
	if budget.MaxTokens <= 0 {
		return nil, fmt.Errorf("usage: budget must be positive, got %d", budget.MaxTokens)
	}
	if thresholds.EmergencyPercent <= thresholds.AlertPercent {
		return nil, fmt.Errorf("usage: emergency threshold (%g) must exceed alert threshold (%g)",
			thresholds.EmergencyPercent, thresholds.AlertPercent)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:      store,
		budget:     budget,
		thresholds: thresholds,
		clk:        clk,
		logger:     logger,
	}, nil
}

// Scan reads the store and returns a fresh snapshot.
func (m *Monitor) Scan(ctx context.Context) (*Snapshot, error) {
	records, err := m.store.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning session store: %w", err)
	}

	now := m.clk.Now()
	snapshot := &Snapshot{
		Taken:    now,
		Budget:   m.budget.MaxTokens,
		Sessions: make([]SessionUsage, 0, len(records)),
	}

	for _, record := range records {
		age := record.Age(now)
		snapshot.TotalCost += record.Cost
		snapshot.Sessions = append(snapshot.Sessions, SessionUsage{
			Record:   record,
			Age:      age,
			Priority: classifyPriority(age, record.Messages),
		})
	}

	snapshot.Utilization = float64(snapshot.TotalCost) / float64(snapshot.Budget) * 100
	snapshot.Status = m.classifyStatus(snapshot.Utilization)

	m.logger.Debug("store scanned",
		"sessions", len(snapshot.Sessions),
		"total_cost", snapshot.TotalCost,
		"utilization", fmt.Sprintf("%.1f%%", snapshot.Utilization),
		"status", snapshot.Status)
	return snapshot, nil
}

// classifyStatus maps utilization to the escalation band. Bands are
// checked from the top so an over-budget store always lands in the
// highest band it qualifies for.
func (m *Monitor) classifyStatus(utilization float64) Status {
	switch {
	case utilization >= m.thresholds.EmergencyPercent:
		return StatusCritical
	case utilization >= m.thresholds.AlertPercent:
		return StatusWarning
	case utilization >= m.thresholds.ModeratePercent:
		return StatusModerate
	default:
		return StatusOK
	}
}

// classifyPriority tags one session from its age and message count.
func classifyPriority(age time.Duration, messages int) Priority {
	if age < priorityFreshWindow && messages > priorityFreshFloor {
		return PriorityHigh
	}
	if age < priorityActiveWindow || messages > priorityActiveFloor {
		return PriorityMedium
	}
	return PriorityLow
}
