// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package emergency

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openclaw-foundation/curator/lib/archive"
	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/notify"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/session"
	"github.com/openclaw-foundation/curator/lib/usage"
)

var testStart = time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

// writeCostRecord writes an unparsable record whose size-based cost
// estimate is exactly tokens.
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

type failingBundler struct{}

func (failingBundler) Archive(context.Context, []*session.Record, string) (*archive.BundleDescriptor, error) {
	return nil, errors.New("disk full")
}

type fakeDeliverer struct {
	reports []notify.Report
}

func (f *fakeDeliverer) Deliver(_ context.Context, report notify.Report) error {
	f.reports = append(f.reports, report)
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

func newTestHandler(t *testing.T, dir string, budget int64, bundler Bundler, deliverer Deliverer) *Handler {
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
	if bundler == nil {
		bundler = newRealBundler(t)
	}
	handler, err := New(monitor, bundler, store, deliverer, policy.Default().Prune,
		policy.ThresholdConfig{ModeratePercent: 60, AlertPercent: 80, EmergencyPercent: 95},
		clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	return handler
}

// tenOldSessions writes sessions s00 (oldest) through s09 (newest),
// each costing 25k tokens, all outside the 24h keep window.
func tenOldSessions(t *testing.T, dir string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		age := time.Duration(75-5*i) * time.Hour
		writeCostRecord(t, dir, fmt.Sprintf("s%02d", i), 25_000, testStart.Add(-age))
	}
}

func TestExecuteArchivesAllThenEvictsToFloor(t *testing.T) {
	dir := t.TempDir()
	tenOldSessions(t, dir) // 250k total against a 200k budget: 125%

	bundler := newRealBundler(t)
	handler := newTestHandler(t, dir, 200_000, bundler, nil)

	report, err := handler.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.SessionsBefore != 10 || report.Archived != 10 {
		t.Errorf("before/archived = %d/%d, want 10/10", report.SessionsBefore, report.Archived)
	}
	if report.Bundle == "" {
		t.Error("no bundle recorded")
	}
	if report.Deleted != 5 || report.Failed != 0 {
		t.Errorf("deleted/failed = %d/%d, want 5/0", report.Deleted, report.Failed)
	}
	if report.FreedCost < 50_000 {
		t.Errorf("freed %d, want at least 50000", report.FreedCost)
	}
	if report.UtilizationBefore != 125.0 {
		t.Errorf("utilization before = %v, want 125", report.UtilizationBefore)
	}
	if report.UtilizationAfter != 62.5 {
		t.Errorf("utilization after = %v, want 62.5", report.UtilizationAfter)
	}
	if !report.Success {
		t.Error("run not marked successful")
	}

	// The five most recent survive; the five oldest are gone.
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("s%02d.json", i))); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("old session s%02d survived", i)
		}
	}
	for i := 5; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("s%02d.json", i))); err != nil {
			t.Errorf("recent session s%02d missing: %v", i, err)
		}
	}

	// The bundle holds the full backup, not just the evicted half.
	bundles, err := bundler.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(bundles) != 1 || bundles[0].SessionCount != 10 {
		t.Errorf("bundle list = %+v, want one bundle of 10", bundles)
	}
}

func TestNeverDropsBelowSurvivorFloor(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeCostRecord(t, dir, fmt.Sprintf("old%d", i), 1000, testStart.Add(-time.Duration(10+i)*24*time.Hour))
	}

	handler := newTestHandler(t, dir, 200_000, nil, nil)
	report, err := handler.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Archived != 3 {
		t.Errorf("archived = %d, want 3", report.Archived)
	}
	if report.Deleted != 0 {
		t.Errorf("deleted = %d, want 0 (floor is 5)", report.Deleted)
	}
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("old%d.json", i))); err != nil {
			t.Errorf("session old%d lost below the floor: %v", i, err)
		}
	}
}

func TestFloorKeepsMostRecentAcrossAgeBoundary(t *testing.T) {
	dir := t.TempDir()
	writeCostRecord(t, dir, "fresh0", 1000, testStart.Add(-time.Hour))
	writeCostRecord(t, dir, "fresh1", 1000, testStart.Add(-2*time.Hour))
	for i := 0; i < 4; i++ {
		writeCostRecord(t, dir, fmt.Sprintf("old%d", i), 1000, testStart.Add(-time.Duration(48+24*i)*time.Hour))
	}

	clk := clock.Fake(testStart)
	store := session.NewStore(dir, 4, nil)
	monitor, err := usage.NewMonitor(store,
		policy.BudgetConfig{MaxTokens: 200_000, CharsPerToken: 4},
		policy.ThresholdConfig{ModeratePercent: 60, AlertPercent: 80, EmergencyPercent: 95},
		clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := policy.Default().Prune
	cfg.KeepMinimumSessions = 3
	handler, err := New(monitor, newRealBundler(t), store, nil, cfg,
		policy.ThresholdConfig{ModeratePercent: 60, AlertPercent: 80, EmergencyPercent: 95},
		clk, nil)
	if err != nil {
		t.Fatal(err)
	}

	report, err := handler.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// Age filtering would evict all four old sessions, but the floor
	// of three is already met by the two fresh ones plus the newest
	// old one.
	if report.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", report.Deleted)
	}
	for _, name := range []string{"fresh0.json", "fresh1.json", "old0.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("survivor %s missing: %v", name, err)
		}
	}
	for _, name := range []string{"old1.json", "old2.json", "old3.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s should have been evicted", name)
		}
	}
}

func TestArchiveFailureBlocksDeletion(t *testing.T) {
	dir := t.TempDir()
	tenOldSessions(t, dir)

	handler := newTestHandler(t, dir, 200_000, failingBundler{}, nil)
	_, err := handler.Execute(context.Background())
	if err == nil {
		t.Fatal("execute succeeded despite archive failure")
	}
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("s%02d.json", i))); err != nil {
			t.Errorf("session s%02d lost despite archive failure: %v", i, err)
		}
	}
}

func TestUnsuccessfulRunNotifies(t *testing.T) {
	dir := t.TempDir()
	tenOldSessions(t, dir)

	deliverer := &fakeDeliverer{}
	// Budget 130k: even after evicting to the floor, 125k remains at
	// 96.2%, still over the 95% threshold.
	handler := newTestHandler(t, dir, 130_000, nil, deliverer)

	report, err := handler.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Success {
		t.Error("run marked successful at 96% utilization")
	}
	if len(deliverer.reports) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliverer.reports))
	}
	if deliverer.reports[0].Severity != notify.SeverityCritical {
		t.Errorf("severity = %s, want critical", deliverer.reports[0].Severity)
	}
}

func TestEmptyStoreSucceedsTrivially(t *testing.T) {
	deliverer := &fakeDeliverer{}
	handler := newTestHandler(t, t.TempDir(), 200_000, nil, deliverer)

	report, err := handler.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Archived != 0 || report.Deleted != 0 || report.Bundle != "" {
		t.Errorf("report = %+v, want empty no-op", report)
	}
	if !report.Success {
		t.Error("empty store should trivially succeed")
	}
	if len(deliverer.reports) != 0 {
		t.Errorf("unexpected notifications: %+v", deliverer.reports)
	}
}
