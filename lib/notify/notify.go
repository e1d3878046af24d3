// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers operational reports to an operator channel.
// Delivery is best-effort by contract: callers log a failed delivery
// and move on, because a broken webhook must never block or fail a
// cleanup that is trying to free space.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openclaw-foundation/curator/lib/policy"
)

// Severity grades a report.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Report is one notification.
type Report struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Severity Severity  `json:"severity"`
	SentAt   time.Time `json:"sent_at"`

	// Payload carries the structured operation report (prune result,
	// emergency report) for machine consumers.
	Payload any `json:"payload,omitempty"`
}

// Sink is one delivery channel.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Deliver sends one report. Implementations honor ctx.
	Deliver(ctx context.Context, report Report) error
}

// LogSink writes reports to the logger. It is the always-available
// fallback channel.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs reports at a level matching
// their severity.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, report Report) error {
	level := slog.LevelInfo
	switch report.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, report.Title,
		"body", report.Body,
		"severity", report.Severity)
	return nil
}

// WebhookSink POSTs reports as JSON to a single URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink returns a webhook sink with the given delivery
// timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// NoopSink discards reports. Used where a Notifier is required but
// notifications are disabled.
type NoopSink struct{}

func (NoopSink) Name() string                          { return "noop" }
func (NoopSink) Deliver(context.Context, Report) error { return nil }

// Notifier fans a report out to every configured sink.
type Notifier struct {
	sinks  []Sink
	logger *slog.Logger
}

// New builds a Notifier from config: a log sink always, plus a
// webhook sink when a URL is configured.
func New(cfg policy.NotifyConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	sinks := []Sink{NewLogSink(logger)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.WebhookURL, cfg.DeliveryTimeout()))
	}
	return &Notifier{sinks: sinks, logger: logger}
}

// NewWithSinks builds a Notifier over explicit sinks.
func NewWithSinks(logger *slog.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sinks: sinks, logger: logger}
}

// Deliver sends the report to every sink and returns the joined
// failures. A non-nil error means at least one channel missed the
// report; callers treat that as a logging matter, not a failure of
// the operation being reported.
func (n *Notifier) Deliver(ctx context.Context, report Report) error {
	if report.SentAt.IsZero() {
		report.SentAt = time.Now().UTC()
	}
	var errs []error
	for _, sink := range n.sinks {
		if err := sink.Deliver(ctx, report); err != nil {
			n.logger.Warn("notification delivery failed",
				"sink", sink.Name(),
				"title", report.Title,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
