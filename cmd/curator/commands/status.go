// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/openclaw-foundation/curator/lib/cli"
	"github.com/openclaw-foundation/curator/lib/usage"
)

// statusReport is the JSON shape of "curator status --json". Defined
// here rather than in lib/usage because the CLI output format is a
// separate contract from the in-process snapshot.
type statusReport struct {
	Taken       time.Time        `json:"taken"`
	Status      usage.Status     `json:"status"`
	Utilization float64          `json:"utilization"`
	Budget      int64            `json:"budget"`
	TotalCost   int64            `json:"total_cost"`
	Sessions    int              `json:"sessions"`
	Priorities  map[string]int   `json:"priorities"`
	Top         []statusTopEntry `json:"top_sessions"`
}

type statusTopEntry struct {
	ID       string         `json:"id"`
	Cost     int64          `json:"cost"`
	Messages int            `json:"messages"`
	Age      string         `json:"age"`
	Priority usage.Priority `json:"priority"`
}

type statusParams struct {
	configParams
	cli.JSONOutput
	Check bool `flag:"check" desc:"exit 1 when utilization is critical (for monitoring scripts)"`
	Top   int  `flag:"top" desc:"number of most expensive sessions to show" default:"10"`
}

func statusCommand() *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Show token usage against the budget",
		Usage:   "curator status [flags]",
		Description: `Scan the session store and report utilization: total estimated
token cost against the configured budget, the escalation band
(ok, moderate, warning, critical), and the most expensive sessions.

Costs are recomputed from disk on every invocation; there is no
cached state to go stale.`,
		Examples: []cli.Example{
			{
				Description: "Check current usage",
				Command:     "curator status",
			},
			{
				Description: "Machine-readable output for scripts",
				Command:     "curator status --json",
			},
			{
				Description: "Alert from cron when the store hits the critical band",
				Command:     "curator status --check || notify-operator",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}

			snapshot, err := kit.monitor.Scan(context.Background())
			if err != nil {
				return err
			}

			report := buildStatusReport(snapshot, params.Top)
			if done, err := params.EmitJSON(report); done {
				if err == nil && params.Check && snapshot.Status == usage.StatusCritical {
					return &cli.ExitError{Code: 1}
				}
				return err
			}
			printStatus(snapshot, report)

			if params.Check && snapshot.Status == usage.StatusCritical {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func buildStatusReport(snapshot *usage.Snapshot, top int) statusReport {
	priorities := make(map[string]int, 3)
	for priority, count := range snapshot.ByPriority() {
		priorities[string(priority)] = count
	}

	topEntries := []statusTopEntry{}
	for _, su := range snapshot.TopByCost(top) {
		topEntries = append(topEntries, statusTopEntry{
			ID:       su.ID,
			Cost:     su.Cost,
			Messages: su.Messages,
			Age:      formatAge(su.Age),
			Priority: su.Priority,
		})
	}

	return statusReport{
		Taken:       snapshot.Taken,
		Status:      snapshot.Status,
		Utilization: snapshot.Utilization,
		Budget:      snapshot.Budget,
		TotalCost:   snapshot.TotalCost,
		Sessions:    snapshot.Count(),
		Priorities:  priorities,
		Top:         topEntries,
	}
}

// Status band colors, matching the dark-terminal palette used by the
// top view: green, amber, orange, red on ANSI 256 codes.
var statusColors = map[usage.Status]lipgloss.Color{
	usage.StatusOK:       lipgloss.Color("114"),
	usage.StatusModerate: lipgloss.Color("220"),
	usage.StatusWarning:  lipgloss.Color("208"),
	usage.StatusCritical: lipgloss.Color("196"),
}

const usageBarWidth = 40

// renderUsageBar draws a fixed-width utilization bar. The filled
// portion is colored by the escalation band; over-budget stores show
// a full bar.
func renderUsageBar(utilization float64, status usage.Status) string {
	filled := int(utilization / 100 * usageBarWidth)
	if filled > usageBarWidth {
		filled = usageBarWidth
	}
	if filled < 0 {
		filled = 0
	}

	color, ok := statusColors[status]
	if !ok {
		color = lipgloss.Color("252")
	}
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	rest := lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Render(strings.Repeat("░", usageBarWidth-filled))
	return bar + rest
}

func printStatus(snapshot *usage.Snapshot, report statusReport) {
	badge := lipgloss.NewStyle().
		Foreground(statusColors[snapshot.Status]).
		Bold(true).
		Render(strings.ToUpper(string(snapshot.Status)))

	fmt.Printf("%s  %s %.1f%%\n", badge, renderUsageBar(snapshot.Utilization, snapshot.Status), snapshot.Utilization)
	fmt.Printf("%s of %s tokens across %d sessions\n",
		formatTokens(snapshot.TotalCost), formatTokens(snapshot.Budget), report.Sessions)

	if len(report.Priorities) > 0 {
		parts := []string{}
		for _, priority := range []usage.Priority{usage.PriorityHigh, usage.PriorityMedium, usage.PriorityLow} {
			if count := report.Priorities[string(priority)]; count > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", count, priority))
			}
		}
		if len(parts) > 0 {
			fmt.Printf("Priorities: %s\n", strings.Join(parts, ", "))
		}
	}

	if len(report.Top) == 0 {
		return
	}

	fmt.Println()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "SESSION\tCOST\tMSGS\tAGE\tPRIORITY\n")
	for _, entry := range report.Top {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n",
			entry.ID,
			formatTokens(entry.Cost),
			entry.Messages,
			entry.Age,
			entry.Priority,
		)
	}
	writer.Flush()
}
