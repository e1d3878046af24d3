// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package importance scores a session's likelihood of future
// relevance from structural signals: how recently it was active, how
// much back-and-forth it holds, how heavily it used tools, and how
// much of its text looks like real work (code, long messages,
// debugging language). The score ranks eviction order; it never
// gates anything on its own.
//
// Scoring is a pure function over a parsed session record. The only
// state an Analyzer carries is a bounded memo keyed by (id, last
// activity): re-analyzing an unchanged session is free, and any new
// activity changes the key.
package importance

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/session"
)

// Classification buckets a score for human consumption.
type Classification string

const (
	ClassCritical  Classification = "critical"
	ClassImportant Classification = "important"
	ClassModerate  Classification = "moderate"
	ClassLow       Classification = "low"
	ClassMinimal   Classification = "minimal"

	// ClassUnknown marks sessions whose content could not be
	// parsed. They score zero but are not confidently minimal.
	ClassUnknown Classification = "unknown"
)

// Recommendation is the analyzer's advice to the pruner.
type Recommendation string

const (
	RecommendPreserve        Recommendation = "preserve"
	RecommendPreserveIfSpace Recommendation = "preserve_if_space"
	RecommendEvaluate        Recommendation = "evaluate_case_by_case"
	RecommendCandidate       Recommendation = "candidate_for_pruning"
	RecommendSafeToPrune     Recommendation = "safe_to_prune"
)

// Factors holds the independent sub-scores, each 0-100 except
// ErrorRate, which is the 0-1 failure fraction applied as a penalty.
type Factors struct {
	Recency    float64 `json:"recency"`
	Engagement float64 `json:"engagement"`
	ToolUsage  float64 `json:"tool_usage"`
	Depth      float64 `json:"depth"`
	Complexity float64 `json:"complexity"`
	Uniqueness float64 `json:"uniqueness"`
	ErrorRate  float64 `json:"error_rate"`
}

// Analysis is the full scoring result for one session.
type Analysis struct {
	SessionID      string         `json:"session_id"`
	Score          float64        `json:"score"`
	Classification Classification `json:"classification"`
	Recommendation Recommendation `json:"recommendation"`
	Factors        Factors        `json:"factors"`
}

// Analyzer scores sessions. Safe for use from a single goroutine;
// curator's pipeline is strictly sequential, so no lock guards the
// memo.
type Analyzer struct {
	weights policy.ScoringConfig
	clk     clock.Clock
	logger  *slog.Logger

	// memo is bounded FIFO: when full, the oldest insertion is
	// evicted regardless of recent hits.
	memo     map[string]Analysis
	memoKeys []string
	memoCap  int
}

// NewAnalyzer returns an Analyzer with the given scoring weights and
// memo capacity. A nil clock falls back to the real clock, a nil
// logger to slog.Default().
func NewAnalyzer(cfg policy.ScoringConfig, clk clock.Clock, logger *slog.Logger) *Analyzer {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.CacheSize
	if capacity <= 0 {
		capacity = policy.DefaultScoreCacheSize
	}
	return &Analyzer{
		weights: cfg,
		clk:     clk,
		logger:  logger,
		memo:    make(map[string]Analysis, capacity),
		memoCap: capacity,
	}
}

// Analyze scores one session. Results are memoized per (id, last
// activity); a memo hit returns the earlier result unchanged, so a
// cached recency reflects the session's age when it was first scored.
// The memo is small and turns over quickly, which bounds that
// staleness.
func (a *Analyzer) Analyze(record *session.Record) Analysis {
	key := fmt.Sprintf("%s@%d", record.ID, record.Modified.UnixNano())
	if cached, ok := a.memo[key]; ok {
		return cached
	}

	analysis := a.score(record)
	a.remember(key, analysis)
	return analysis
}

// CacheLen returns the number of memoized results.
func (a *Analyzer) CacheLen() int { return len(a.memo) }

func (a *Analyzer) remember(key string, analysis Analysis) {
	if len(a.memo) >= a.memoCap {
		oldest := a.memoKeys[0]
		a.memoKeys = a.memoKeys[1:]
		delete(a.memo, oldest)
	}
	a.memo[key] = analysis
	a.memoKeys = append(a.memoKeys, key)
}

// score computes the full analysis. Pure: no filesystem access, no
// clock reads besides the age anchor.
func (a *Analyzer) score(record *session.Record) Analysis {
	if record.Malformed {
		a.logger.Debug("session content unparsed, scoring unknown", "session", record.ID)
		return Analysis{
			SessionID:      record.ID,
			Score:          0,
			Classification: ClassUnknown,
			Recommendation: RecommendEvaluate,
		}
	}

	age := record.Age(a.clk.Now())
	factors := Factors{
		Recency:    recencyScore(age),
		Engagement: engagementScore(record),
		ToolUsage:  toolUsageScore(record),
		Depth:      depthScore(record),
		Complexity: complexityScore(record),
		Uniqueness: uniquenessScore(record),
		ErrorRate:  record.ErrorRate(),
	}

	// The weights intentionally sum past 1.0 (tool usage and depth
	// are emphasized beyond a normalized blend); the clamp below
	// absorbs the overshoot.
	score := factors.Recency*a.weights.RecencyWeight +
		factors.Engagement*a.weights.EngagementWeight +
		factors.ToolUsage*a.weights.ToolUsageWeight +
		factors.Depth*a.weights.DepthWeight +
		factors.Complexity*a.weights.ComplexityWeight +
		factors.Uniqueness*a.weights.UniquenessWeight

	score *= 1 - factors.ErrorRate*0.5
	score = clamp(score, 0, 100)

	return Analysis{
		SessionID:      record.ID,
		Score:          score,
		Classification: classify(score),
		Recommendation: recommend(score, factors),
		Factors:        factors,
	}
}

// recencyScore is a step function of age: 100 inside the hour, 10
// once the session is two weeks cold.
func recencyScore(age time.Duration) float64 {
	switch {
	case age < time.Hour:
		return 100
	case age < 6*time.Hour:
		return 90
	case age < 24*time.Hour:
		return 80
	case age < 3*24*time.Hour:
		return 60
	case age < 7*24*time.Hour:
		return 40
	case age < 14*24*time.Hour:
		return 20
	default:
		return 10
	}
}

// engagementScore rewards message volume, sustained alternation, and
// the >20 / >50 message milestones.
func engagementScore(record *session.Record) float64 {
	score := min(60, float64(record.Messages)*3)
	if record.Turns >= 10 {
		score += 10
	}
	if record.Messages > 20 {
		score += 15
	}
	if record.Messages > 50 {
		score += 15
	}
	return min(100, score)
}

// toolUsageScore blends invocation count with tool diversity.
func toolUsageScore(record *session.Record) float64 {
	count := min(60, float64(record.ToolCalls)*6)
	diversity := min(40, float64(record.DistinctTools())*10)
	return min(100, count+diversity)
}

// depthScore reads conversation structure: turns, long messages, and
// whether any code changed hands.
func depthScore(record *session.Record) float64 {
	score := min(50, float64(record.Turns)*5)
	score += min(30, float64(record.LongMessages)*10)
	if record.CodeBlocks > 0 {
		score += 20
	}
	return min(100, score)
}

// complexityScore is a coarse "real work happened here" signal.
func complexityScore(record *session.Record) float64 {
	var score float64
	if record.CodeBlocks > 0 {
		score += 30
	}
	if record.ToolCalls > 0 {
		score += 20
	}
	if record.Messages > 0 && record.TextChars/int64(record.Messages) > 300 {
		score += 25
	}
	if record.DebugMessages > 0 {
		score += 25
	}
	return min(100, score)
}

// uniquenessScore rewards tool diversity on its own: a session that
// exercised four different tools is hard to reconstruct.
func uniquenessScore(record *session.Record) float64 {
	return min(100, float64(record.DistinctTools())*25)
}

func classify(score float64) Classification {
	switch {
	case score >= 80:
		return ClassCritical
	case score >= 60:
		return ClassImportant
	case score >= 40:
		return ClassModerate
	case score >= 20:
		return ClassLow
	default:
		return ClassMinimal
	}
}

// recommend maps score and factors to pruner advice. Two overrides
// sit above the plain thresholds: anything scored while fresh is
// preserved outright, and a session that was mostly failures is safe
// to drop even when other factors prop its score up.
func recommend(score float64, factors Factors) Recommendation {
	if factors.Recency >= 90 {
		return RecommendPreserve
	}
	if factors.ErrorRate > 0.5 && score < 40 {
		return RecommendSafeToPrune
	}
	switch {
	case score >= 80:
		return RecommendPreserve
	case score >= 60:
		return RecommendPreserveIfSpace
	case score >= 40:
		return RecommendEvaluate
	case score >= 20:
		return RecommendCandidate
	default:
		return RecommendSafeToPrune
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
