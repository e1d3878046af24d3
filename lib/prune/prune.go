// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package prune selects sessions for eviction and executes the
// archive-then-delete pipeline. Selection is pure; all effects go
// through the Bundler and Remover interfaces, so the ordering rule —
// nothing is deleted before the bundle write succeeds — is enforced
// in exactly one place and checkable from tests.
package prune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/openclaw-foundation/curator/lib/archive"
	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/importance"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/session"
	"github.com/openclaw-foundation/curator/lib/usage"
)

// Strategy names an eviction aggressiveness level.
type Strategy string

const (
	// StrategyConservative evicts only sessions older than the
	// configured max age.
	StrategyConservative Strategy = "conservative"

	// StrategyModerate adds the lowest-ranked quarter of the
	// remaining eligible sessions, but only above 80% utilization.
	StrategyModerate Strategy = "moderate"

	// StrategyAggressive evicts a utilization-scaled fraction of all
	// eligible sessions, lowest rank first.
	StrategyAggressive Strategy = "aggressive"

	// StrategyEmergency evicts everything outside the keep-recent
	// window, ignoring rank and the engagement floor.
	StrategyEmergency Strategy = "emergency"
)

// ParseStrategy validates a strategy name from config or CLI input.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyConservative, StrategyModerate, StrategyAggressive, StrategyEmergency:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want conservative, moderate, aggressive, or emergency)", name)
	}
}

// Utilization bands. These mirror the status thresholds but are fixed
// by the eviction model, not by configuration: tuning the alert
// thresholds changes when cleanup triggers, not how much it takes.
const (
	moderateUtilizationGate = 80.0
	moderateEvictFraction   = 0.25
)

// aggressiveBands maps utilization to the fraction of eligible
// sessions evicted. Checked top-down; the highest matching band wins.
var aggressiveBands = []struct {
	above    float64
	fraction float64
}{
	{95, 0.70},
	{90, 0.50},
	{80, 0.25},
}

// Ranking constants. The rank blends recency, engagement, and cost
// into a keep-worthiness score; the lowest-ranked sessions are
// evicted first.
const (
	rankRecencyWindowHours = 168 // one week to decay to zero
	rankPointsPerMessage   = 5
	rankPointsPer10kCost   = 10

	rankRecencyWeight    = 0.40
	rankEngagementWeight = 0.30
	rankCostWeight       = 0.20

	rankHighPriorityBonus   = 50
	rankMediumPriorityBonus = 25
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

// Candidate is one session selected for eviction, with the scores
// that selected it.
type Candidate struct {
	ID         string         `json:"id"`
	Age        time.Duration  `json:"age"`
	Cost       int64          `json:"cost"`
	Messages   int            `json:"messages"`
	Priority   usage.Priority `json:"priority"`
	Rank       float64        `json:"rank"`
	Importance float64        `json:"importance"`
}

// Plan is a non-destructive eviction preview.
type Plan struct {
	Strategy      Strategy    `json:"strategy"`
	Taken         time.Time   `json:"taken"`
	Utilization   float64     `json:"utilization"`
	TotalSessions int         `json:"total_sessions"`
	Protected     int         `json:"protected"`
	Candidates    []Candidate `json:"candidates"`

	// FreedCost is the estimated token cost recovered if every
	// candidate is evicted.
	FreedCost int64 `json:"freed_cost"`
}

// Result reports an executed prune.
type Result struct {
	Strategy  Strategy      `json:"strategy"`
	Selected  int           `json:"selected"`
	Evicted   int           `json:"evicted"`
	Failed    int           `json:"failed"`
	Preserved int           `json:"preserved"`
	FreedCost int64         `json:"freed_cost"`
	Bundle    string        `json:"bundle,omitempty"`
	Duration  time.Duration `json:"duration"`

	UtilizationBefore float64 `json:"utilization_before"`
	UtilizationAfter  float64 `json:"utilization_after"`
}

// Pruner runs the selection and eviction pipeline.
type Pruner struct {
	monitor  *usage.Monitor
	analyzer *importance.Analyzer
	bundler  Bundler
	remover  Remover
	cfg      policy.PruneConfig
	clk      clock.Clock
	logger   *slog.Logger
}

// New builds a Pruner. The analyzer breaks ranking ties and annotates
// previews; monitor, bundler, and remover are required.
func New(monitor *usage.Monitor, analyzer *importance.Analyzer, bundler Bundler, remover Remover,
	cfg policy.PruneConfig, clk clock.Clock, logger *slog.Logger) (*Pruner, error) {
	if monitor == nil {
		return nil, errors.New("prune: monitor is required")
	}
	if analyzer == nil {
		return nil, errors.New("prune: analyzer is required")
	}
	if bundler == nil {
		return nil, errors.New("prune: bundler is required")
	}
	if remover == nil {
		return nil, errors.New("prune: remover is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		monitor:  monitor,
		analyzer: analyzer,
		bundler:  bundler,
		remover:  remover,
		cfg:      cfg,
		clk:      clk,
		logger:   logger,
	}, nil
}

// Preview scans the store and returns the sessions the strategy would
// evict, without touching anything.
func (p *Pruner) Preview(ctx context.Context, strategy Strategy) (*Plan, error) {
	snapshot, err := p.monitor.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return p.plan(strategy, snapshot), nil
}

// Prune archives and then deletes the sessions the strategy selects.
// The bundle write must succeed before any file is removed; if
// archiving fails, nothing is deleted. Individual deletion failures
// are logged and counted, not fatal.
func (p *Pruner) Prune(ctx context.Context, strategy Strategy, reason string) (*Result, error) {
	start := p.clk.Now()
	snapshot, err := p.monitor.Scan(ctx)
	if err != nil {
		return nil, err
	}
	plan := p.plan(strategy, snapshot)

	result := &Result{
		Strategy:          strategy,
		Selected:          len(plan.Candidates),
		Preserved:         snapshot.Count(),
		UtilizationBefore: snapshot.Utilization,
		UtilizationAfter:  snapshot.Utilization,
	}
	if len(plan.Candidates) == 0 {
		result.Duration = p.clk.Now().Sub(start)
		p.logger.Info("prune selected nothing",
			"strategy", strategy,
			"utilization", fmt.Sprintf("%.1f%%", snapshot.Utilization))
		return result, nil
	}

	records := make([]*session.Record, 0, len(plan.Candidates))
	byID := make(map[string]usage.SessionUsage, len(snapshot.Sessions))
	for _, su := range snapshot.Sessions {
		byID[su.ID] = su
	}
	for _, c := range plan.Candidates {
		records = append(records, byID[c.ID].Record)
	}

	bundle, err := p.bundler.Archive(ctx, records, reason)
	if err != nil {
		return nil, fmt.Errorf("archive failed, nothing deleted: %w", err)
	}
	result.Bundle = bundle.Name

	for _, rec := range records {
		if err := p.remover.Remove(rec); err != nil {
			p.logger.Warn("failed to delete archived session",
				"session", rec.ID, "error", err)
			result.Failed++
			continue
		}
		result.Evicted++
		result.FreedCost += rec.Cost
	}
	result.Preserved = snapshot.Count() - result.Evicted

	after, err := p.monitor.Scan(ctx)
	if err != nil {
		// The eviction already happened; report a derived figure
		// rather than failing the whole run.
		p.logger.Warn("post-prune scan failed", "error", err)
		if snapshot.Budget > 0 {
			result.UtilizationAfter = float64(snapshot.TotalCost-result.FreedCost) / float64(snapshot.Budget) * 100
		}
	} else {
		result.UtilizationAfter = after.Utilization
	}
	result.Duration = p.clk.Now().Sub(start)

	p.logger.Info("prune complete",
		"strategy", strategy,
		"evicted", result.Evicted,
		"failed", result.Failed,
		"freed_cost", result.FreedCost,
		"bundle", result.Bundle,
		"utilization_before", fmt.Sprintf("%.1f%%", result.UtilizationBefore),
		"utilization_after", fmt.Sprintf("%.1f%%", result.UtilizationAfter))
	return result, nil
}

// plan runs the strategy's selection over a snapshot.
func (p *Pruner) plan(strategy Strategy, snapshot *usage.Snapshot) *Plan {
	var selected []usage.SessionUsage
	var protected int
	switch strategy {
	case StrategyEmergency:
		// Rank and the engagement floor are ignored: age is the only
		// criterion, so a busy-but-old session is still evicted.
		keepRecent := p.cfg.KeepRecent()
		for _, su := range snapshot.Sessions {
			if su.Age > keepRecent {
				selected = append(selected, su)
			}
		}
		protected = snapshot.Count() - len(selected)
	default:
		eligible := make([]usage.SessionUsage, 0, len(snapshot.Sessions))
		for _, su := range snapshot.Sessions {
			if p.isProtected(su) {
				protected++
				continue
			}
			eligible = append(eligible, su)
		}
		selected = p.selectOrdinary(strategy, snapshot.Utilization, eligible)
	}

	candidates := make([]Candidate, 0, len(selected))
	var freed int64
	for _, su := range selected {
		candidates = append(candidates, Candidate{
			ID:         su.ID,
			Age:        su.Age,
			Cost:       su.Cost,
			Messages:   su.Messages,
			Priority:   su.Priority,
			Rank:       p.rank(su),
			Importance: p.analyzer.Analyze(su.Record).Score,
		})
		freed += su.Cost
	}
	p.sortForEviction(candidates)
	return &Plan{
		Strategy:      strategy,
		Taken:         snapshot.Taken,
		Utilization:   snapshot.Utilization,
		TotalSessions: snapshot.Count(),
		Protected:     protected,
		Candidates:    candidates,
		FreedCost:     freed,
	}
}

// isProtected applies the floors that the conservative, moderate, and
// aggressive strategies must never cross: sessions inside the
// keep-recent window, or at or above the high-engagement floor, are
// not eligible at all.
func (p *Pruner) isProtected(su usage.SessionUsage) bool {
	if su.Age < p.cfg.KeepRecent() {
		return true
	}
	return su.Messages >= p.cfg.HighEngagementMessages
}

func (p *Pruner) selectOrdinary(strategy Strategy, utilization float64, eligible []usage.SessionUsage) []usage.SessionUsage {
	maxAge := p.cfg.MaxAge()
	var selected []usage.SessionUsage
	switch strategy {
	case StrategyConservative:
		for _, su := range eligible {
			if su.Age > maxAge {
				selected = append(selected, su)
			}
		}
	case StrategyModerate:
		var remainder []usage.SessionUsage
		for _, su := range eligible {
			if su.Age > maxAge {
				selected = append(selected, su)
			} else {
				remainder = append(remainder, su)
			}
		}
		if utilization > moderateUtilizationGate {
			take := int(float64(len(remainder)) * moderateEvictFraction)
			selected = append(selected, p.lowestRanked(remainder, take)...)
		}
	case StrategyAggressive:
		take := int(float64(len(eligible)) * aggressiveFraction(utilization))
		selected = p.lowestRanked(eligible, take)
	}
	return selected
}

// aggressiveFraction returns how much of the eligible set the
// aggressive strategy evicts at a given utilization. At or below 80%
// it evicts nothing.
func aggressiveFraction(utilization float64) float64 {
	for _, band := range aggressiveBands {
		if utilization > band.above {
			return band.fraction
		}
	}
	return 0
}

// lowestRanked returns the n lowest-ranked sessions. Equal ranks are
// broken by the importance score, then by id, so selection is
// deterministic.
func (p *Pruner) lowestRanked(sessions []usage.SessionUsage, n int) []usage.SessionUsage {
	if n <= 0 {
		return nil
	}
	sorted := make([]usage.SessionUsage, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := p.rank(sorted[i]), p.rank(sorted[j])
		if ri != rj {
			return ri < rj
		}
		si := p.analyzer.Analyze(sorted[i].Record).Score
		sj := p.analyzer.Analyze(sorted[j].Record).Score
		if si != sj {
			return si < sj
		}
		return sorted[i].ID < sorted[j].ID
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// rank scores how much a session is worth keeping. Recency decays
// linearly to zero over a week; messages and cost saturate at 100;
// priority tags add a flat bonus. Lowest rank is evicted first.
func (p *Pruner) rank(su usage.SessionUsage) float64 {
	recency := 100 - su.Age.Hours()*100/rankRecencyWindowHours
	if recency < 0 {
		recency = 0
	}
	engagement := math.Min(100, float64(su.Messages)*rankPointsPerMessage)
	cost := math.Min(100, float64(su.Cost)/10000*rankPointsPer10kCost)

	score := rankRecencyWeight*recency + rankEngagementWeight*engagement + rankCostWeight*cost
	switch su.Priority {
	case usage.PriorityHigh:
		score += rankHighPriorityBonus
	case usage.PriorityMedium:
		score += rankMediumPriorityBonus
	}
	return score
}

// sortForEviction orders candidates lowest rank first, with the same
// tie-breaks as selection, so plans and bundles list sessions in
// eviction order.
func (p *Pruner) sortForEviction(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Rank != candidates[j].Rank {
			return candidates[i].Rank < candidates[j].Rank
		}
		if candidates[i].Importance != candidates[j].Importance {
			return candidates[i].Importance < candidates[j].Importance
		}
		return candidates[i].ID < candidates[j].ID
	})
}
