// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package prune

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openclaw-foundation/curator/lib/archive"
	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/importance"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/session"
	"github.com/openclaw-foundation/curator/lib/usage"
)

var testStart = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// writeCostRecord writes an unparsable record whose size-based cost
// estimate is exactly tokens, with zero messages.
func writeCostRecord(t *testing.T, dir, id string, tokens int64, modified time.Time) {
	t.Helper()
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, []byte(strings.Repeat("a", int(tokens*4))), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modified, modified); err != nil {
		t.Fatal(err)
	}
}

// writeBusyRecord writes an object-form record with the given number
// of messages.
func writeBusyRecord(t *testing.T, dir, id string, messages int, modified time.Time) {
	t.Helper()
	parts := make([]string, messages)
	for i := range parts {
		parts[i] = `{"role":"user","content":"m"}`
	}
	content := `{"messages":[` + strings.Join(parts, ",") + `]}`
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modified, modified); err != nil {
		t.Fatal(err)
	}
}

type recordingBundler struct {
	events *[]string
	fail   bool
	real   *archive.Archiver
}

func (b *recordingBundler) Archive(ctx context.Context, records []*session.Record, reason string) (*archive.BundleDescriptor, error) {
	if b.fail {
		return nil, errors.New("bundle write failed")
	}
	*b.events = append(*b.events, fmt.Sprintf("archive:%d", len(records)))
	if b.real != nil {
		return b.real.Archive(ctx, records, reason)
	}
	return &archive.BundleDescriptor{Name: "test-bundle.tar.zst", SessionCount: len(records)}, nil
}

type recordingRemover struct {
	events *[]string
	store  *session.Store
	failID string
}

func (r *recordingRemover) Remove(record *session.Record) error {
	if record.ID == r.failID {
		return errors.New("permission denied")
	}
	*r.events = append(*r.events, "delete:"+record.ID)
	if r.store != nil {
		return r.store.Remove(record)
	}
	return nil
}

func newRealBundler(t *testing.T) *archive.Archiver {
	t.Helper()
	cfg := policy.ArchiveConfig{Compression: "zstd", RetentionDays: 30, MinFreeMB: 1}
	archiver, err := archive.New(t.TempDir(), cfg, clock.Fake(testStart), nil)
	if err != nil {
		t.Fatal(err)
	}
	return archiver
}

// newTestPruner wires a pruner over dir with the default prune
// policy. Nil bundler gets a real archiver in a temp dir; nil remover
// gets the store itself.
func newTestPruner(t *testing.T, dir string, budget int64, bundler Bundler, remover Remover) *Pruner {
	t.Helper()
	clk := clock.Fake(testStart)
	store := session.NewStore(dir, 4, nil)
	monitor, err := usage.NewMonitor(store,
		policy.BudgetConfig{MaxTokens: budget, CharsPerToken: 4},
		policy.ThresholdConfig{ModeratePercent: 60, AlertPercent: 80, EmergencyPercent: 95},
		clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	analyzer := importance.NewAnalyzer(policy.Default().Scoring, clk, nil)
	if bundler == nil {
		bundler = newRealBundler(t)
	}
	if remover == nil {
		remover = store
	}
	pruner, err := New(monitor, analyzer, bundler, remover, policy.Default().Prune, clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	return pruner
}

func candidateIDs(plan *Plan) []string {
	ids := make([]string, len(plan.Candidates))
	for i, c := range plan.Candidates {
		ids[i] = c.ID
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, got := range ids {
		if got == id {
			return true
		}
	}
	return false
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"conservative", "moderate", "aggressive", "emergency"} {
		strategy, err := ParseStrategy(name)
		if err != nil || string(strategy) != name {
			t.Errorf("ParseStrategy(%q) = %v, %v", name, strategy, err)
		}
	}
	if _, err := ParseStrategy("reckless"); err == nil {
		t.Error("ParseStrategy accepted an unknown name")
	}
}

func TestRankBlend(t *testing.T) {
	pruner := newTestPruner(t, t.TempDir(), 100_000, nil, nil)

	// Half-decayed recency (84h of a 168h window), 10 messages, cost
	// 50k, medium priority: 0.4*50 + 0.3*50 + 0.2*50 + 25 = 70.
	su := usage.SessionUsage{
		Record:   &session.Record{ID: "r", Cost: 50_000, Messages: 10},
		Age:      84 * time.Hour,
		Priority: usage.PriorityMedium,
	}
	if got := pruner.rank(su); math.Abs(got-70) > 1e-9 {
		t.Errorf("rank = %v, want 70", got)
	}

	// Recency floors at zero instead of going negative.
	stale := usage.SessionUsage{
		Record:   &session.Record{ID: "s"},
		Age:      400 * time.Hour,
		Priority: usage.PriorityLow,
	}
	if got := pruner.rank(stale); got != 0 {
		t.Errorf("stale rank = %v, want 0", got)
	}

	// High priority is worth twice the medium bonus.
	su.Priority = usage.PriorityHigh
	if got := pruner.rank(su); math.Abs(got-95) > 1e-9 {
		t.Errorf("high-priority rank = %v, want 95", got)
	}
}

func TestFreshBusySessionNeverSelected(t *testing.T) {
	dir := t.TempDir()
	writeCostRecord(t, dir, "ancient", 1000, testStart.Add(-10*24*time.Hour))
	writeBusyRecord(t, dir, "fresh", 15, testStart.Add(-time.Hour))

	// A tiny budget forces critical utilization, the worst case for
	// protection.
	pruner := newTestPruner(t, dir, 10, nil, nil)

	for _, strategy := range []Strategy{StrategyConservative, StrategyModerate, StrategyAggressive, StrategyEmergency} {
		plan, err := pruner.Preview(context.Background(), strategy)
		if err != nil {
			t.Fatal(err)
		}
		if contains(candidateIDs(plan), "fresh") {
			t.Errorf("%s selected the fresh high-engagement session", strategy)
		}
	}

	plan, err := pruner.Preview(context.Background(), StrategyConservative)
	if err != nil {
		t.Fatal(err)
	}
	if ids := candidateIDs(plan); len(ids) != 1 || ids[0] != "ancient" {
		t.Errorf("conservative candidates = %v, want [ancient]", ids)
	}
	if plan.TotalSessions != 2 || plan.Protected != 1 {
		t.Errorf("total/protected = %d/%d, want 2/1", plan.TotalSessions, plan.Protected)
	}

	// Preview must not touch the store.
	for _, name := range []string{"ancient.json", "fresh.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("preview disturbed %s: %v", name, err)
		}
	}
}

func TestConservativePruneIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeCostRecord(t, dir, "expired", 1000, testStart.Add(-10*24*time.Hour))
	writeCostRecord(t, dir, "middling", 1000, testStart.Add(-3*24*time.Hour))

	pruner := newTestPruner(t, dir, 100_000, nil, nil)

	first, err := pruner.Prune(context.Background(), StrategyConservative, "manual")
	if err != nil {
		t.Fatal(err)
	}
	if first.Evicted != 1 || first.Failed != 0 || first.Preserved != 1 {
		t.Errorf("first prune = %+v", first)
	}
	if first.Bundle == "" {
		t.Error("first prune produced no bundle")
	}
	if first.UtilizationAfter >= first.UtilizationBefore {
		t.Errorf("utilization did not drop: %.2f -> %.2f",
			first.UtilizationBefore, first.UtilizationAfter)
	}
	if _, err := os.Stat(filepath.Join(dir, "expired.json")); !errors.Is(err, os.ErrNotExist) {
		t.Error("expired session still present after prune")
	}

	second, err := pruner.Prune(context.Background(), StrategyConservative, "manual")
	if err != nil {
		t.Fatal(err)
	}
	if second.Selected != 0 || second.Evicted != 0 || second.Bundle != "" {
		t.Errorf("second prune not a no-op: %+v", second)
	}
}

func TestModerateUtilizationGate(t *testing.T) {
	age10d := testStart.Add(-10 * 24 * time.Hour)
	age3d := testStart.Add(-3 * 24 * time.Hour)

	t.Run("above gate evicts lowest quarter of remainder", func(t *testing.T) {
		dir := t.TempDir()
		writeCostRecord(t, dir, "a-expired", 5_000, age10d)
		writeCostRecord(t, dir, "b", 10_000, age3d)
		writeCostRecord(t, dir, "c", 20_000, age3d)
		writeCostRecord(t, dir, "d", 25_000, age3d)
		writeCostRecord(t, dir, "e", 25_000, age3d)

		pruner := newTestPruner(t, dir, 100_000, nil, nil) // 85%
		plan, err := pruner.Preview(context.Background(), StrategyModerate)
		if err != nil {
			t.Fatal(err)
		}
		ids := candidateIDs(plan)
		if len(ids) != 2 || !contains(ids, "a-expired") || !contains(ids, "b") {
			t.Errorf("candidates = %v, want [a-expired b]", ids)
		}
	})

	t.Run("below gate evicts age-expired only", func(t *testing.T) {
		dir := t.TempDir()
		writeCostRecord(t, dir, "a-expired", 5_000, age10d)
		writeCostRecord(t, dir, "b", 10_000, age3d)
		writeCostRecord(t, dir, "c", 20_000, age3d)
		writeCostRecord(t, dir, "d", 25_000, age3d)
		writeCostRecord(t, dir, "f", 10_000, age3d)

		pruner := newTestPruner(t, dir, 100_000, nil, nil) // 70%
		plan, err := pruner.Preview(context.Background(), StrategyModerate)
		if err != nil {
			t.Fatal(err)
		}
		if ids := candidateIDs(plan); len(ids) != 1 || ids[0] != "a-expired" {
			t.Errorf("candidates = %v, want [a-expired]", ids)
		}
	})
}

func TestAggressiveFractions(t *testing.T) {
	dir := t.TempDir()
	age3d := testStart.Add(-3 * 24 * time.Hour)
	for i := 1; i <= 10; i++ {
		writeCostRecord(t, dir, fmt.Sprintf("s%02d", i), int64(i)*1000, age3d)
	}
	// Total cost 55,000; the budget sets the utilization band.
	cases := []struct {
		budget int64
		want   int
	}{
		{100_000, 0}, // 55%: at or below the gate, nothing
		{65_000, 2},  // 84.6%: quarter of ten, floored
		{60_000, 5},  // 91.7%: half
		{56_000, 7},  // 98.2%: seventy percent
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("budget_%d", tc.budget), func(t *testing.T) {
			pruner := newTestPruner(t, dir, tc.budget, nil, nil)
			plan, err := pruner.Preview(context.Background(), StrategyAggressive)
			if err != nil {
				t.Fatal(err)
			}
			ids := candidateIDs(plan)
			if len(ids) != tc.want {
				t.Fatalf("selected %d sessions, want %d (%v)", len(ids), tc.want, ids)
			}
			// Lowest-ranked first: the cheapest sessions go.
			for i, id := range ids {
				want := fmt.Sprintf("s%02d", i+1)
				if id != want {
					t.Errorf("candidate[%d] = %s, want %s", i, id, want)
				}
			}
		})
	}
}

func TestArchiveFailureBlocksDeletion(t *testing.T) {
	dir := t.TempDir()
	writeCostRecord(t, dir, "expired", 1000, testStart.Add(-10*24*time.Hour))

	var events []string
	bundler := &recordingBundler{events: &events, fail: true}
	remover := &recordingRemover{events: &events, store: session.NewStore(dir, 4, nil)}
	pruner := newTestPruner(t, dir, 100_000, bundler, remover)

	_, err := pruner.Prune(context.Background(), StrategyConservative, "manual")
	if err == nil {
		t.Fatal("prune succeeded despite archive failure")
	}
	for _, event := range events {
		if strings.HasPrefix(event, "delete:") {
			t.Fatalf("deletion happened after archive failure: %v", events)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "expired.json")); err != nil {
		t.Errorf("session file lost despite archive failure: %v", err)
	}
}

func TestArchiveHappensBeforeDeletion(t *testing.T) {
	dir := t.TempDir()
	writeCostRecord(t, dir, "one", 1000, testStart.Add(-10*24*time.Hour))
	writeCostRecord(t, dir, "two", 1000, testStart.Add(-12*24*time.Hour))

	var events []string
	bundler := &recordingBundler{events: &events, real: newRealBundler(t)}
	remover := &recordingRemover{events: &events, store: session.NewStore(dir, 4, nil)}
	pruner := newTestPruner(t, dir, 100_000, bundler, remover)

	result, err := pruner.Prune(context.Background(), StrategyConservative, "manual")
	if err != nil {
		t.Fatal(err)
	}
	if result.Evicted != 2 {
		t.Errorf("evicted = %d, want 2", result.Evicted)
	}
	if len(events) != 3 || !strings.HasPrefix(events[0], "archive:") {
		t.Fatalf("event order = %v, want archive first", events)
	}
	for _, event := range events[1:] {
		if !strings.HasPrefix(event, "delete:") {
			t.Errorf("unexpected event after archive: %v", events)
		}
	}
}

func TestDeletionFailureIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeCostRecord(t, dir, "bad", 1000, testStart.Add(-10*24*time.Hour))
	writeCostRecord(t, dir, "good", 1000, testStart.Add(-10*24*time.Hour))

	var events []string
	remover := &recordingRemover{events: &events, store: session.NewStore(dir, 4, nil), failID: "bad"}
	pruner := newTestPruner(t, dir, 100_000, nil, remover)

	result, err := pruner.Prune(context.Background(), StrategyConservative, "manual")
	if err != nil {
		t.Fatal(err)
	}
	if result.Evicted != 1 || result.Failed != 1 {
		t.Errorf("evicted/failed = %d/%d, want 1/1", result.Evicted, result.Failed)
	}
	if result.Preserved != 1 {
		t.Errorf("preserved = %d, want 1", result.Preserved)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.json")); err != nil {
		t.Errorf("failed-delete session should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "good.json")); !errors.Is(err, os.ErrNotExist) {
		t.Error("good session not deleted")
	}
}

func TestEmergencyIgnoresEngagementFloor(t *testing.T) {
	dir := t.TempDir()
	writeBusyRecord(t, dir, "veteran", 50, testStart.Add(-3*24*time.Hour))
	writeBusyRecord(t, dir, "fresh", 3, testStart.Add(-time.Hour))

	pruner := newTestPruner(t, dir, 10, nil, nil) // critical utilization

	aggressive, err := pruner.Preview(context.Background(), StrategyAggressive)
	if err != nil {
		t.Fatal(err)
	}
	if len(aggressive.Candidates) != 0 {
		t.Errorf("aggressive evicted protected sessions: %v", candidateIDs(aggressive))
	}

	emergency, err := pruner.Preview(context.Background(), StrategyEmergency)
	if err != nil {
		t.Fatal(err)
	}
	ids := candidateIDs(emergency)
	if !contains(ids, "veteran") {
		t.Error("emergency spared the high-engagement session outside the keep window")
	}
	if contains(ids, "fresh") {
		t.Error("emergency selected a session inside the keep window")
	}
}

func TestPruneWithNothingSelected(t *testing.T) {
	dir := t.TempDir()
	writeBusyRecord(t, dir, "fresh", 3, testStart.Add(-time.Hour))

	var events []string
	bundler := &recordingBundler{events: &events}
	pruner := newTestPruner(t, dir, 100_000, bundler, nil)

	result, err := pruner.Prune(context.Background(), StrategyConservative, "manual")
	if err != nil {
		t.Fatal(err)
	}
	if result.Selected != 0 || result.Evicted != 0 || result.Bundle != "" {
		t.Errorf("result = %+v, want all-zero no-op", result)
	}
	if len(events) != 0 {
		t.Errorf("bundler called for an empty selection: %v", events)
	}
}
