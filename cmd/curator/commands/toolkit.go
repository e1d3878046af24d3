// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openclaw-foundation/curator/lib/archive"
	"github.com/openclaw-foundation/curator/lib/cli"
	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/emergency"
	"github.com/openclaw-foundation/curator/lib/importance"
	"github.com/openclaw-foundation/curator/lib/notify"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/prune"
	"github.com/openclaw-foundation/curator/lib/session"
	"github.com/openclaw-foundation/curator/lib/usage"
)

// configParams is embedded by every command that loads the policy.
// The --config flag overrides the CURATOR_CONFIG environment
// variable; with neither set, built-in defaults apply.
type configParams struct {
	Config string `flag:"config,c" desc:"config file path (overrides CURATOR_CONFIG)"`
}

// toolkit wires the curator components for one command invocation.
// Construction is cheap (no I/O beyond reading the config file), so
// each command builds a fresh toolkit rather than sharing state.
type toolkit struct {
	policy   *policy.Policy
	store    *session.Store
	monitor  *usage.Monitor
	analyzer *importance.Analyzer
	logger   *slog.Logger
}

// openToolkit loads and validates the policy, ensures the session and
// archive roots exist, and builds the scan pipeline.
func openToolkit(params configParams) (*toolkit, error) {
	cfg, err := loadPolicy(params)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	logger := cli.NewCommandLogger()
	store := session.NewStore(cfg.Paths.Sessions, cfg.Budget.CharsPerToken, logger)
	monitor, err := usage.NewMonitor(store, cfg.Budget, cfg.Thresholds, clock.Real(), logger)
	if err != nil {
		return nil, err
	}
	analyzer := importance.NewAnalyzer(cfg.Scoring, clock.Real(), logger)

	return &toolkit{
		policy:   cfg,
		store:    store,
		monitor:  monitor,
		analyzer: analyzer,
		logger:   logger,
	}, nil
}

// loadPolicy resolves the config source: the --config flag first,
// then CURATOR_CONFIG, then built-in defaults.
func loadPolicy(params configParams) (*policy.Policy, error) {
	if params.Config != "" {
		return policy.LoadFile(params.Config)
	}
	if os.Getenv("CURATOR_CONFIG") != "" {
		return policy.Load()
	}
	return policy.Default(), nil
}

// archiver builds the bundle writer for the configured archive root.
func (t *toolkit) archiver() (*archive.Archiver, error) {
	return archive.New(t.policy.Paths.Archives, t.policy.Archive, clock.Real(), t.logger)
}

// pruner builds the eviction pipeline on top of the archiver.
func (t *toolkit) pruner() (*prune.Pruner, error) {
	bundler, err := t.archiver()
	if err != nil {
		return nil, err
	}
	return prune.New(t.monitor, t.analyzer, bundler, t.store, t.policy.Prune, clock.Real(), t.logger)
}

// notifier builds the configured notification fan-out.
func (t *toolkit) notifier() *notify.Notifier {
	return notify.New(t.policy.Notify, t.logger)
}

// emergencyHandler builds the full-backup eviction path with the
// notifier wired for failure reports.
func (t *toolkit) emergencyHandler() (*emergency.Handler, error) {
	bundler, err := t.archiver()
	if err != nil {
		return nil, err
	}
	return emergency.New(t.monitor, bundler, t.store, t.notifier(),
		t.policy.Prune, t.policy.Thresholds, clock.Real(), t.logger)
}

// formatTokens renders a token count with thousands separators.
func formatTokens(tokens int64) string {
	if tokens < 0 {
		return fmt.Sprintf("%d", tokens)
	}
	s := fmt.Sprintf("%d", tokens)
	var out []byte
	for i, digit := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digit)
	}
	return string(out)
}

// formatAge renders a session age compactly: the two most significant
// units down to minutes, seconds only under a minute.
func formatAge(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	days := int(age.Hours()) / 24
	hours := int(age.Hours()) % 24
	minutes := int(age.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	}
}

// formatSize returns a human-readable byte size.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
