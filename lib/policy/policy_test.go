// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Budget.MaxTokens != DefaultBudgetTokens {
		t.Errorf("expected max_tokens=%d, got %d", DefaultBudgetTokens, cfg.Budget.MaxTokens)
	}
	if cfg.Budget.CharsPerToken != 4 {
		t.Errorf("expected chars_per_token=4, got %d", cfg.Budget.CharsPerToken)
	}
	if cfg.Thresholds.EmergencyPercent <= cfg.Thresholds.AlertPercent {
		t.Errorf("default thresholds must be ordered: emergency %g <= alert %g",
			cfg.Thresholds.EmergencyPercent, cfg.Thresholds.AlertPercent)
	}
	if cfg.Archive.Compression != "zstd" {
		t.Errorf("expected compression=zstd, got %s", cfg.Archive.Compression)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() must validate cleanly: %v", err)
	}
}

func TestLoad_RequiresCuratorConfig(t *testing.T) {
	origConfig := os.Getenv("CURATOR_CONFIG")
	defer os.Setenv("CURATOR_CONFIG", origConfig)

	os.Unsetenv("CURATOR_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when CURATOR_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "CURATOR_CONFIG") {
		t.Errorf("error should name the missing variable, got %q", err.Error())
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curator.yaml")
	content := `
paths:
  sessions: /srv/openclaw/sessions
  archives: /srv/openclaw/archives
budget:
  max_tokens: 500000
thresholds:
  alert_percent: 70
  emergency_percent: 90
watch:
  poll_interval: 30s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Paths.Sessions != "/srv/openclaw/sessions" {
		t.Errorf("sessions path = %q", cfg.Paths.Sessions)
	}
	if cfg.Budget.MaxTokens != 500000 {
		t.Errorf("max_tokens = %d, want 500000", cfg.Budget.MaxTokens)
	}
	if cfg.Thresholds.AlertPercent != 70 {
		t.Errorf("alert_percent = %g, want 70", cfg.Thresholds.AlertPercent)
	}
	// Unset fields keep their defaults.
	if cfg.Budget.CharsPerToken != DefaultCharsPerToken {
		t.Errorf("chars_per_token = %d, want default %d", cfg.Budget.CharsPerToken, DefaultCharsPerToken)
	}
	if cfg.Watch.PollInterval() != 30*time.Second {
		t.Errorf("poll interval = %s, want 30s", cfg.Watch.PollInterval())
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curator.jsonc")
	content := `{
  // Tuned down for the shared staging box.
  "budget": {
    "max_tokens": 100000,
  },
  "thresholds": {
    "moderate_percent": 50,
    "alert_percent": 75,
    "emergency_percent": 92,
  },
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Budget.MaxTokens != 100000 {
		t.Errorf("max_tokens = %d, want 100000", cfg.Budget.MaxTokens)
	}
	if cfg.Thresholds.EmergencyPercent != 92 {
		t.Errorf("emergency_percent = %g, want 92", cfg.Thresholds.EmergencyPercent)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_ExpandsHome(t *testing.T) {
	t.Setenv("HOME", "/home/curator-test")

	path := filepath.Join(t.TempDir(), "curator.yaml")
	content := `
paths:
  sessions: ${HOME}/sessions
  archives: ${HOME}/archives
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Sessions != "/home/curator-test/sessions" {
		t.Errorf("sessions path = %q, want expanded HOME", cfg.Paths.Sessions)
	}
}

func TestValidate_RejectsEmergencyAtOrBelowAlert(t *testing.T) {
	for _, emergency := range []float64{80, 75} {
		cfg := Default()
		cfg.Thresholds.AlertPercent = 80
		cfg.Thresholds.EmergencyPercent = emergency

		err := cfg.Validate()
		if err == nil {
			t.Fatalf("emergency_percent=%g with alert_percent=80 must fail validation", emergency)
		}
		if !strings.Contains(err.Error(), "emergency_percent") {
			t.Errorf("error should name emergency_percent, got %q", err.Error())
		}
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Budget.MaxTokens = 0
	cfg.Budget.CharsPerToken = -1
	cfg.Archive.Compression = "brotli"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"max_tokens", "chars_per_token", "compression"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got %q", want, err.Error())
		}
	}
}

func TestValidate_PollIntervalFloor(t *testing.T) {
	cfg := Default()
	cfg.Watch.Poll = "500ms"
	if err := cfg.Validate(); err == nil {
		t.Error("sub-second poll interval must fail validation")
	}

	cfg.Watch.Poll = "not-a-duration"
	if err := cfg.Validate(); err == nil {
		t.Error("unparsable poll interval must fail validation")
	}
}

func TestValidate_SweepSchedule(t *testing.T) {
	cfg := Default()
	cfg.Watch.SweepSchedule = "0 3 * * *"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid sweep schedule rejected: %v", err)
	}

	cfg.Watch.SweepSchedule = "61 3 * * *"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("out-of-range sweep schedule must fail validation")
	}
	if !strings.Contains(err.Error(), "sweep_schedule") {
		t.Errorf("error should name sweep_schedule, got %q", err.Error())
	}
}

func TestSweepTimes(t *testing.T) {
	cfg := Default()
	if _, ok := cfg.Watch.SweepTimes(); ok {
		t.Error("empty sweep schedule reported as configured")
	}

	cfg.Watch.SweepSchedule = "0 3 * * *"
	schedule, ok := cfg.Watch.SweepTimes()
	if !ok {
		t.Fatal("configured sweep schedule not returned")
	}
	next, err := schedule.Next(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 4, 2, 3, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("Next = %s, want %s", next, want)
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Paths.Sessions = filepath.Join(root, "sessions")
	cfg.Paths.Archives = filepath.Join(root, "nested", "archives")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.Paths.Sessions, cfg.Paths.Archives} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	if cfg.Watch.PollInterval() != 5*time.Minute {
		t.Errorf("PollInterval() = %s, want 5m", cfg.Watch.PollInterval())
	}
	if cfg.Watch.Timeout() != 2*time.Minute {
		t.Errorf("Timeout() = %s, want 2m", cfg.Watch.Timeout())
	}
	if cfg.Notify.DeliveryTimeout() != 10*time.Second {
		t.Errorf("DeliveryTimeout() = %s, want 10s", cfg.Notify.DeliveryTimeout())
	}
	if cfg.Prune.MaxAge() != 7*24*time.Hour {
		t.Errorf("MaxAge() = %s, want 168h", cfg.Prune.MaxAge())
	}
	if cfg.Prune.KeepRecent() != 24*time.Hour {
		t.Errorf("KeepRecent() = %s, want 24h", cfg.Prune.KeepRecent())
	}
	if cfg.Archive.Retention() != 30*24*time.Hour {
		t.Errorf("Retention() = %s, want 720h", cfg.Archive.Retention())
	}
}
