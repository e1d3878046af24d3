// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/openclaw-foundation/curator/lib/cli"
	"github.com/openclaw-foundation/curator/lib/notify"
	"github.com/openclaw-foundation/curator/lib/prune"
	"github.com/openclaw-foundation/curator/lib/watch"
)

type watchParams struct {
	configParams
	cli.JSONOutput
	Once bool `flag:"once" desc:"run a single scan cycle and exit"`
}

func watchCommand() *cli.Command {
	var params watchParams

	return &cli.Command{
		Name:    "watch",
		Summary: "Poll the store and escalate cleanups automatically",
		Usage:   "curator watch [flags]",
		Description: `Run the background watcher in the foreground: scan the store on
the configured poll interval and, when auto-cleanup is enabled,
escalate to the cleanup matching the utilization band. A critical
scan triggers the emergency procedure, a warning scan an aggressive
cleanup, a moderate scan a conservative one.

Automatic cleanups deliver a notification report when they evict
anything. With watch.sweep_schedule set, the loop also runs archive
retention sweeps at the scheduled times. The loop runs until
interrupted; SIGINT and SIGTERM stop it cleanly, waiting out any
in-flight cleanup.`,
		Examples: []cli.Example{
			{
				Description: "Watch in the foreground",
				Command:     "curator watch",
			},
			{
				Description: "Run one scan cycle from cron",
				Command:     "curator watch --once",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("watch", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}
			watcher, err := buildWatcher(kit)
			if err != nil {
				return err
			}

			if params.Once {
				return runWatchOnce(watcher, &params)
			}
			return runWatchLoop(watcher, kit)
		},
	}
}

// buildWatcher assembles the watcher from the toolkit, wrapping the
// pruner so automatic cleanups report through the notifier. The
// archiver doubles as the retention sweeper when a sweep schedule is
// configured.
func buildWatcher(kit *toolkit) (*watch.Watcher, error) {
	pruner, err := kit.pruner()
	if err != nil {
		return nil, err
	}
	handler, err := kit.emergencyHandler()
	if err != nil {
		return nil, err
	}
	sweeper, err := kit.archiver()
	if err != nil {
		return nil, err
	}
	cleaner := &notifyingCleaner{
		inner:     pruner,
		deliverer: kit.notifier(),
	}
	return watch.New(kit.monitor, cleaner, handler, sweeper, kit.policy.Watch, nil, kit.logger)
}

func runWatchOnce(watcher *watch.Watcher, params *watchParams) error {
	// Start always runs the first cycle before waiting on the poll
	// timer, and Stop waits for the in-flight cycle, so the pair
	// executes exactly one scan.
	if err := watcher.Start(context.Background()); err != nil {
		return err
	}
	if err := watcher.Stop(); err != nil {
		return err
	}

	status := watcher.Status()
	if done, err := params.EmitJSON(status); done {
		return err
	}
	printWatchStatus(status)
	return nil
}

func runWatchLoop(watcher *watch.Watcher, kit *toolkit) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "watching %s every %s (auto-cleanup %s), interrupt to stop\n",
		kit.policy.Paths.Sessions,
		kit.policy.Watch.PollInterval(),
		onOff(kit.policy.Watch.AutoCleanup))

	<-ctx.Done()

	// The context cancellation already tears the loop down; Stop is
	// still called to wait for an in-flight cycle to finish.
	if err := watcher.Stop(); err != nil && err != watch.ErrNotRunning {
		return err
	}

	status := watcher.Status()
	fmt.Fprintf(os.Stderr, "stopped after %d scans, %d cleanups\n", status.Ticks, status.Cleanups)
	return nil
}

func printWatchStatus(status watch.Status) {
	fmt.Printf("Watcher %s: %d scans, %d cleanups, %d sweeps\n",
		status.State, status.Ticks, status.Cleanups, status.Sweeps)
	if !status.LastTick.IsZero() {
		fmt.Printf("Last scan at %s", status.LastTick.Format("2006-01-02 15:04:05"))
		if status.LastStatus != "" {
			fmt.Printf(" (%s)", status.LastStatus)
		}
		fmt.Println()
	}
	if !status.LastCleanup.IsZero() {
		fmt.Printf("Last cleanup at %s\n", status.LastCleanup.Format("2006-01-02 15:04:05"))
	}
	if !status.NextSweep.IsZero() {
		fmt.Printf("Next retention sweep at %s\n", status.NextSweep.Format("2006-01-02 15:04"))
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

// notifyingCleaner decorates a pruner so watcher-initiated cleanups
// deliver a report. Escalated aggressive runs report at warning
// severity, routine conservative runs at info. Delivery failures are
// logged by the notifier and never fail the cleanup.
type notifyingCleaner struct {
	inner     watch.Cleaner
	deliverer *notify.Notifier
}

func (c *notifyingCleaner) Prune(ctx context.Context, strategy prune.Strategy, reason string) (*prune.Result, error) {
	result, err := c.inner.Prune(ctx, strategy, reason)
	if err != nil || result.Evicted == 0 {
		return result, err
	}

	severity := notify.SeverityInfo
	if strategy == prune.StrategyAggressive || strategy == prune.StrategyEmergency {
		severity = notify.SeverityWarning
	}
	_ = c.deliverer.Deliver(ctx, notify.Report{
		Title: "automatic cleanup",
		Body: fmt.Sprintf("%s cleanup evicted %d sessions, freed ~%s tokens (%.1f%% → %.1f%%)",
			result.Strategy, result.Evicted, formatTokens(result.FreedCost),
			result.UtilizationBefore, result.UtilizationAfter),
		Severity: severity,
		Payload:  result,
	})
	return result, nil
}
