// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy provides configuration loading for curator.
//
// Configuration is loaded from a single file specified by:
//   - CURATOR_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The file format is YAML by default. Files ending in .json or .jsonc are
// parsed as JSON with comments and trailing commas allowed, for operators
// who annotate their threshold choices in place.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/openclaw-foundation/curator/lib/cron"
)

// Default values applied before the config file is read. Durations are
// kept as strings in the file (parsed on access), so the defaults are
// strings too.
const (
	DefaultBudgetTokens     = 200_000
	DefaultCharsPerToken    = 4
	DefaultModeratePercent  = 60
	DefaultAlertPercent     = 80
	DefaultEmergencyPercent = 95
	DefaultMaxAgeDays       = 7
	DefaultKeepRecentHours  = 24
	DefaultKeepMinimum      = 5
	DefaultHighEngagement   = 15
	DefaultRetentionDays    = 30
	DefaultMinFreeMB        = 100
	DefaultScoreCacheSize   = 256
	defaultPollInterval     = "5m"
	defaultOperationTimeout = "2m"
	defaultNotifyTimeout    = "10s"
	defaultCompression      = "zstd"
)

// Policy is the master configuration for curator.
type Policy struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths" json:"paths"`

	// Budget configures the token budget the session store is
	// measured against.
	Budget BudgetConfig `yaml:"budget" json:"budget"`

	// Thresholds are the utilization percentages at which the store
	// status escalates.
	Thresholds ThresholdConfig `yaml:"thresholds" json:"thresholds"`

	// Prune configures eviction horizons and protection floors.
	Prune PruneConfig `yaml:"prune" json:"prune"`

	// Watch configures the background watcher.
	Watch WatchConfig `yaml:"watch" json:"watch"`

	// Archive configures bundle compression, retention, and
	// encryption.
	Archive ArchiveConfig `yaml:"archive" json:"archive"`

	// Notify configures outbound notifications.
	Notify NotifyConfig `yaml:"notify" json:"notify"`

	// Scoring configures the importance analyzer.
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Sessions is the live session store: one record file per
	// session.
	Sessions string `yaml:"sessions" json:"sessions"`

	// Archives is where bundles and the archive index live.
	Archives string `yaml:"archives" json:"archives"`
}

// BudgetConfig configures cost accounting.
type BudgetConfig struct {
	// MaxTokens is the token budget the store is measured against.
	MaxTokens int64 `yaml:"max_tokens" json:"max_tokens"`

	// CharsPerToken is the estimation ratio: token cost is content
	// length divided by this, rounded up.
	CharsPerToken int `yaml:"chars_per_token" json:"chars_per_token"`
}

// ThresholdConfig holds the utilization escalation floors, as
// percentages of the budget. Utilization can exceed 100.
type ThresholdConfig struct {
	// ModeratePercent is the floor of the MODERATE status band.
	ModeratePercent float64 `yaml:"moderate_percent" json:"moderate_percent"`

	// AlertPercent is the floor of the WARNING status band.
	AlertPercent float64 `yaml:"alert_percent" json:"alert_percent"`

	// EmergencyPercent is the floor of the CRITICAL status band.
	// Must be strictly greater than AlertPercent.
	EmergencyPercent float64 `yaml:"emergency_percent" json:"emergency_percent"`
}

// PruneConfig configures eviction and protection.
type PruneConfig struct {
	// MaxAgeDays is the conservative eviction horizon: sessions
	// older than this are eviction candidates.
	MaxAgeDays int `yaml:"max_age_days" json:"max_age_days"`

	// KeepRecentHours protects sessions newer than this from all
	// eviction, and bounds what the emergency path may delete.
	KeepRecentHours int `yaml:"keep_recent_hours" json:"keep_recent_hours"`

	// KeepMinimumSessions is the survivor floor for the emergency
	// path: it never leaves fewer live sessions than this.
	KeepMinimumSessions int `yaml:"keep_minimum_sessions" json:"keep_minimum_sessions"`

	// HighEngagementMessages protects sessions with at least this
	// many messages from ordinary eviction.
	HighEngagementMessages int `yaml:"high_engagement_messages" json:"high_engagement_messages"`
}

// WatchConfig configures the background watcher.
type WatchConfig struct {
	// Poll is the interval between scans, as a duration string
	// ("5m"). The next scan is scheduled after the previous cycle
	// completes, so cycles never overlap.
	Poll string `yaml:"poll_interval" json:"poll_interval"`

	// AutoCleanup enables escalation: when a scan crosses a
	// threshold, the watcher runs the matching cleanup.
	AutoCleanup bool `yaml:"auto_cleanup" json:"auto_cleanup"`

	// OperationTimeout bounds a single cleanup run inside the
	// watcher, as a duration string ("2m").
	OperationTimeout string `yaml:"operation_timeout" json:"operation_timeout"`

	// SweepSchedule is an optional 5-field cron expression. When
	// set, the watcher runs an archive retention sweep at the
	// scheduled times; empty leaves sweeps to "curator archive
	// sweep" and external cron.
	SweepSchedule string `yaml:"sweep_schedule,omitempty" json:"sweep_schedule,omitempty"`
}

// ArchiveConfig configures bundles.
type ArchiveConfig struct {
	// Compression selects the bundle codec: "zstd", "lz4", or
	// "none".
	Compression string `yaml:"compression" json:"compression"`

	// RetentionDays is how long bundles are kept before the sweep
	// removes them. Zero keeps bundles forever.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// MinFreeMB aborts bundle writes when the archive volume has
	// less than this much free space. Zero disables the check.
	MinFreeMB int64 `yaml:"min_free_mb" json:"min_free_mb"`

	// AgeRecipients, when non-empty, encrypts bundles to these age
	// public keys (age1... format).
	AgeRecipients []string `yaml:"age_recipients" json:"age_recipients"`

	// AgeIdentity is the path to an age identity file used to
	// decrypt bundles on restore. Required to restore encrypted
	// bundles.
	AgeIdentity string `yaml:"age_identity" json:"age_identity"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	// WebhookURL receives JSON reports via POST. Empty disables the
	// webhook sink; reports still go to the log.
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`

	// Timeout bounds a single delivery, as a duration string
	// ("10s").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// ScoringConfig configures the importance analyzer.
//
// The weights deliberately sum to more than 1.0: the original scoring
// model emphasizes tool usage and depth beyond a normalized blend, and
// the final score is clamped to [0, 100].
type ScoringConfig struct {
	// CacheSize bounds the analyzer's memo cache (entries). The
	// oldest entry is evicted when full.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	RecencyWeight    float64 `yaml:"recency_weight" json:"recency_weight"`
	EngagementWeight float64 `yaml:"engagement_weight" json:"engagement_weight"`
	ToolUsageWeight  float64 `yaml:"tool_usage_weight" json:"tool_usage_weight"`
	DepthWeight      float64 `yaml:"depth_weight" json:"depth_weight"`
	ComplexityWeight float64 `yaml:"complexity_weight" json:"complexity_weight"`
	UniquenessWeight float64 `yaml:"uniqueness_weight" json:"uniqueness_weight"`
}

// Default returns the default configuration. These defaults are a base
// for the config file, not a substitute for it: the session and
// archive roots default under the invoking user's home and are almost
// always overridden in deployment.
func Default() *Policy {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".openclaw")

	return &Policy{
		Paths: PathsConfig{
			Sessions: filepath.Join(defaultRoot, "sessions"),
			Archives: filepath.Join(defaultRoot, "archives"),
		},
		Budget: BudgetConfig{
			MaxTokens:     DefaultBudgetTokens,
			CharsPerToken: DefaultCharsPerToken,
		},
		Thresholds: ThresholdConfig{
			ModeratePercent:  DefaultModeratePercent,
			AlertPercent:     DefaultAlertPercent,
			EmergencyPercent: DefaultEmergencyPercent,
		},
		Prune: PruneConfig{
			MaxAgeDays:             DefaultMaxAgeDays,
			KeepRecentHours:        DefaultKeepRecentHours,
			KeepMinimumSessions:    DefaultKeepMinimum,
			HighEngagementMessages: DefaultHighEngagement,
		},
		Watch: WatchConfig{
			Poll:             defaultPollInterval,
			AutoCleanup:      true,
			OperationTimeout: defaultOperationTimeout,
		},
		Archive: ArchiveConfig{
			Compression:   defaultCompression,
			RetentionDays: DefaultRetentionDays,
			MinFreeMB:     DefaultMinFreeMB,
		},
		Notify: NotifyConfig{
			Timeout: defaultNotifyTimeout,
		},
		Scoring: ScoringConfig{
			CacheSize:        DefaultScoreCacheSize,
			RecencyWeight:    0.25,
			EngagementWeight: 0.20,
			ToolUsageWeight:  0.30,
			DepthWeight:      0.25,
			ComplexityWeight: 0.15,
			UniquenessWeight: 0.10,
		},
	}
}

// Load loads configuration from the CURATOR_CONFIG environment
// variable. There are no fallbacks: if CURATOR_CONFIG is not set,
// this fails.
func Load() (*Policy, error) {
	path := os.Getenv("CURATOR_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("CURATOR_CONFIG environment variable not set; " +
			"set it to the path of your curator config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging over
// Default(). Environment variables do not override config values; the
// only expansion performed is ${HOME}-style path variables.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch filepath.Ext(path) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (p *Policy) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	p.Paths.Sessions = expandVars(p.Paths.Sessions, vars)
	p.Paths.Archives = expandVars(p.Paths.Archives, vars)
	p.Archive.AgeIdentity = expandVars(p.Archive.AgeIdentity, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together via errors.Join so an operator fixes the file in
// one pass.
func (p *Policy) Validate() error {
	var errs []error

	if p.Paths.Sessions == "" {
		errs = append(errs, fmt.Errorf("paths.sessions is required"))
	}
	if p.Paths.Archives == "" {
		errs = append(errs, fmt.Errorf("paths.archives is required"))
	}

	if p.Budget.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("budget.max_tokens must be positive, got %d", p.Budget.MaxTokens))
	}
	if p.Budget.CharsPerToken <= 0 {
		errs = append(errs, fmt.Errorf("budget.chars_per_token must be positive, got %d", p.Budget.CharsPerToken))
	}

	if p.Thresholds.ModeratePercent <= 0 {
		errs = append(errs, fmt.Errorf("thresholds.moderate_percent must be positive, got %g", p.Thresholds.ModeratePercent))
	}
	if p.Thresholds.AlertPercent <= p.Thresholds.ModeratePercent {
		errs = append(errs, fmt.Errorf("thresholds.alert_percent (%g) must exceed moderate_percent (%g)",
			p.Thresholds.AlertPercent, p.Thresholds.ModeratePercent))
	}
	// The emergency floor sitting at or below the alert floor would
	// make the CRITICAL band unreachable and the escalation ladder
	// ambiguous. Rejected outright rather than silently reordered.
	if p.Thresholds.EmergencyPercent <= p.Thresholds.AlertPercent {
		errs = append(errs, fmt.Errorf("thresholds.emergency_percent (%g) must exceed alert_percent (%g)",
			p.Thresholds.EmergencyPercent, p.Thresholds.AlertPercent))
	}

	if p.Prune.MaxAgeDays <= 0 {
		errs = append(errs, fmt.Errorf("prune.max_age_days must be positive, got %d", p.Prune.MaxAgeDays))
	}
	if p.Prune.KeepRecentHours <= 0 {
		errs = append(errs, fmt.Errorf("prune.keep_recent_hours must be positive, got %d", p.Prune.KeepRecentHours))
	}
	if p.Prune.KeepMinimumSessions < 0 {
		errs = append(errs, fmt.Errorf("prune.keep_minimum_sessions must not be negative, got %d", p.Prune.KeepMinimumSessions))
	}
	if p.Prune.HighEngagementMessages <= 0 {
		errs = append(errs, fmt.Errorf("prune.high_engagement_messages must be positive, got %d", p.Prune.HighEngagementMessages))
	}

	if d, err := time.ParseDuration(p.Watch.Poll); err != nil {
		errs = append(errs, fmt.Errorf("watch.poll_interval: %w", err))
	} else if d < time.Second {
		errs = append(errs, fmt.Errorf("watch.poll_interval must be at least 1s, got %s", p.Watch.Poll))
	}
	if _, err := time.ParseDuration(p.Watch.OperationTimeout); err != nil {
		errs = append(errs, fmt.Errorf("watch.operation_timeout: %w", err))
	}
	if p.Watch.SweepSchedule != "" {
		if _, err := cron.Parse(p.Watch.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("watch.sweep_schedule: %w", err))
		}
	}

	switch p.Archive.Compression {
	case "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("archive.compression must be zstd, lz4, or none, got %q", p.Archive.Compression))
	}
	if p.Archive.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("archive.retention_days must not be negative, got %d", p.Archive.RetentionDays))
	}
	if p.Archive.MinFreeMB < 0 {
		errs = append(errs, fmt.Errorf("archive.min_free_mb must not be negative, got %d", p.Archive.MinFreeMB))
	}
	for _, recipient := range p.Archive.AgeRecipients {
		if recipient == "" {
			errs = append(errs, fmt.Errorf("archive.age_recipients must not contain empty entries"))
			break
		}
	}

	if p.Notify.Timeout != "" {
		if _, err := time.ParseDuration(p.Notify.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("notify.timeout: %w", err))
		}
	}

	if p.Scoring.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("scoring.cache_size must be positive, got %d", p.Scoring.CacheSize))
	}
	for name, weight := range map[string]float64{
		"recency_weight":    p.Scoring.RecencyWeight,
		"engagement_weight": p.Scoring.EngagementWeight,
		"tool_usage_weight": p.Scoring.ToolUsageWeight,
		"depth_weight":      p.Scoring.DepthWeight,
		"complexity_weight": p.Scoring.ComplexityWeight,
		"uniqueness_weight": p.Scoring.UniquenessWeight,
	} {
		if weight < 0 {
			errs = append(errs, fmt.Errorf("scoring.%s must not be negative, got %g", name, weight))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the session and archive directories if they
// don't exist.
func (p *Policy) EnsurePaths() error {
	for _, path := range []string{p.Paths.Sessions, p.Paths.Archives} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// PollInterval returns the parsed watch poll interval. Call only after
// Validate has accepted the policy; an unparsable value falls back to
// the default.
func (w WatchConfig) PollInterval() time.Duration {
	d, err := time.ParseDuration(w.Poll)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultPollInterval)
	}
	return d
}

// Timeout returns the parsed per-operation timeout, with the same
// post-Validate contract as PollInterval.
func (w WatchConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(w.OperationTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultOperationTimeout)
	}
	return d
}

// SweepTimes returns the parsed sweep schedule. The second return is
// false when no schedule is configured or the expression does not
// parse; Validate reports the latter as a config error.
func (w WatchConfig) SweepTimes() (cron.Schedule, bool) {
	if w.SweepSchedule == "" {
		return cron.Schedule{}, false
	}
	schedule, err := cron.Parse(w.SweepSchedule)
	if err != nil {
		return cron.Schedule{}, false
	}
	return schedule, true
}

// DeliveryTimeout returns the parsed notification timeout, with the
// same post-Validate contract as PollInterval.
func (n NotifyConfig) DeliveryTimeout() time.Duration {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultNotifyTimeout)
	}
	return d
}

// MaxAge returns the conservative eviction horizon as a duration.
func (p PruneConfig) MaxAge() time.Duration {
	return time.Duration(p.MaxAgeDays) * 24 * time.Hour
}

// KeepRecent returns the protection window as a duration.
func (p PruneConfig) KeepRecent() time.Duration {
	return time.Duration(p.KeepRecentHours) * time.Hour
}

// Retention returns the bundle retention window as a duration.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}
