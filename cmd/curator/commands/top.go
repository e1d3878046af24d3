// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/openclaw-foundation/curator/lib/cli"
	"github.com/openclaw-foundation/curator/lib/usage"
)

type topParams struct {
	configParams
	Interval time.Duration `flag:"interval,i" desc:"refresh interval" default:"5s"`
}

func topCommand() *cli.Command {
	var params topParams

	return &cli.Command{
		Name:    "top",
		Summary: "Live terminal view of store utilization",
		Usage:   "curator top [flags]",
		Description: `Watch the session store in a full-screen terminal view that
rescans on an interval: the utilization bar, the escalation band,
and the most expensive sessions, sorted by token cost.

Every refresh is a full rescan from disk, the same measurement the
status command takes, so the view never disagrees with a cleanup
running next to it.`,
		Examples: []cli.Example{
			{
				Description: "Watch the store with the default 5s refresh",
				Command:     "curator top",
			},
			{
				Description: "Slow the rescan down for a very large store",
				Command:     "curator top --interval 30s",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("top", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}

			model := newTopModel(kit.monitor, kit.policy.Paths.Sessions, params.Interval)
			program := tea.NewProgram(model, tea.WithAltScreen())
			_, err = program.Run()
			return err
		},
	}
}

// refreshTickMsg fires when the refresh interval elapses.
type refreshTickMsg struct{}

// snapshotMsg carries a completed scan back into the model.
type snapshotMsg struct {
	snapshot *usage.Snapshot
	err      error
}

type topKeyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var topKeys = topKeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh now"),
	),
}

var (
	topTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	topHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	topFaintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	topErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// topModel is the bubbletea model for the live store view. Scans run
// as commands so a slow filesystem never blocks the event loop.
type topModel struct {
	monitor     *usage.Monitor
	sessionsDir string
	keys        topKeyMap
	interval    time.Duration

	width    int
	height   int
	snapshot *usage.Snapshot
	err      error
}

func newTopModel(monitor *usage.Monitor, sessionsDir string, interval time.Duration) topModel {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return topModel{
		monitor:     monitor,
		sessionsDir: sessionsDir,
		keys:        topKeys,
		interval:    interval,
	}
}

func (model topModel) Init() tea.Cmd {
	return model.scan()
}

// scan returns a command running one full store rescan.
func (model topModel) scan() tea.Cmd {
	monitor := model.monitor
	return func() tea.Msg {
		snapshot, err := monitor.Scan(context.Background())
		return snapshotMsg{snapshot: snapshot, err: err}
	}
}

func (model topModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit
		case key.Matches(message, model.keys.Refresh):
			return model, model.scan()
		}

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height

	case refreshTickMsg:
		return model, model.scan()

	case snapshotMsg:
		if message.err != nil {
			model.err = message.err
		} else {
			model.snapshot = message.snapshot
			model.err = nil
		}
		return model, tea.Tick(model.interval, func(time.Time) tea.Msg {
			return refreshTickMsg{}
		})
	}

	return model, nil
}

func (model topModel) View() string {
	var view strings.Builder

	view.WriteString(topTitleStyle.Render("curator top"))
	view.WriteString(topFaintStyle.Render("  " + model.sessionsDir))
	view.WriteString("\n\n")

	if model.err != nil {
		view.WriteString(topErrorStyle.Render(fmt.Sprintf("scan failed: %v", model.err)))
		view.WriteString("\n\n")
		view.WriteString(model.footer())
		return view.String()
	}
	if model.snapshot == nil {
		view.WriteString(topFaintStyle.Render("Scanning..."))
		view.WriteString("\n")
		return view.String()
	}

	snapshot := model.snapshot
	badge := lipgloss.NewStyle().
		Foreground(statusColors[snapshot.Status]).
		Bold(true).
		Render(strings.ToUpper(string(snapshot.Status)))
	view.WriteString(fmt.Sprintf("%s  %s %.1f%%\n", badge,
		renderUsageBar(snapshot.Utilization, snapshot.Status), snapshot.Utilization))
	view.WriteString(fmt.Sprintf("%s of %s tokens across %d sessions\n\n",
		formatTokens(snapshot.TotalCost), formatTokens(snapshot.Budget), snapshot.Count()))

	view.WriteString(model.sessionTable())
	view.WriteString("\n")
	view.WriteString(model.footer())
	return view.String()
}

// sessionTable renders the most expensive sessions, as many rows as
// the terminal height allows.
func (model topModel) sessionTable() string {
	rows := model.height - 9
	if rows < 5 {
		rows = 5
	}
	top := model.snapshot.TopByCost(rows)
	if len(top) == 0 {
		return topFaintStyle.Render("No sessions in the store.") + "\n"
	}

	var table strings.Builder
	table.WriteString(topHeaderStyle.Render(fmt.Sprintf(
		"%-28s %12s %7s %10s %9s", "SESSION", "COST", "MSGS", "AGE", "PRIORITY")))
	table.WriteString("\n")
	for _, su := range top {
		table.WriteString(fmt.Sprintf("%-28s %12s %7d %10s %9s\n",
			truncateID(su.ID, 28),
			formatTokens(su.Cost),
			su.Messages,
			formatAge(su.Age),
			su.Priority,
		))
	}
	return table.String()
}

func (model topModel) footer() string {
	return topFaintStyle.Render(fmt.Sprintf(
		"q quit · r refresh · rescan every %s, snapshot %s",
		model.interval, model.snapshotAge()))
}

func (model topModel) snapshotAge() string {
	if model.snapshot == nil {
		return "pending"
	}
	return model.snapshot.Taken.Format("15:04:05")
}

func truncateID(id string, max int) string {
	if len(id) <= max {
		return id
	}
	if max <= 3 {
		return id[:max]
	}
	return id[:max-3] + "..."
}
