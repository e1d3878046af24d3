// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "curator",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "status",
				Run: func(args []string) error {
					called = "status"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"status"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "status" {
		t.Errorf("dispatched to %q, want %q", called, "status")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "curator",
		Subcommands: []*Command{
			{
				Name: "archive",
				Subcommands: []*Command{
					{
						Name: "restore",
						Run: func(args []string) error {
							called = "archive restore"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"archive", "restore", "sessions-2026-03-01.tar.zst"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "archive restore" {
		t.Errorf("dispatched to %q, want %q", called, "archive restore")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "sessions-2026-03-01.tar.zst" {
		t.Errorf("args = %v, want [sessions-2026-03-01.tar.zst]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var strategy string
	var target string

	command := &Command{
		Name: "cleanup",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cleanup", pflag.ContinueOnError)
			flagSet.StringVar(&strategy, "strategy", "conservative", "pruning strategy")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--strategy", "moderate", "extra"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if strategy != "moderate" {
		t.Errorf("strategy = %q, want %q", strategy, "moderate")
	}
	if target != "extra" {
		t.Errorf("target = %q, want %q", target, "extra")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "cleanup",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cleanup", pflag.ContinueOnError)
			flagSet.Bool("dry-run", false, "preview without deleting")
			flagSet.String("strategy", "conservative", "pruning strategy")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--dry-rnu"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --dry-run") {
		t.Errorf("error = %q, want suggestion for '--dry-run'", errStr)
	}
	// Suggestion should be on the same line as the error, not buried.
	if !strings.Contains(errStr, "dry-rnu") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	// Should include a pointer to --help.
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "cleanup",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cleanup", pflag.ContinueOnError)
			flagSet.Bool("dry-run", false, "preview without deleting")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "curator",
		Subcommands: []*Command{
			{Name: "status"},
			{Name: "cleanup"},
			{Name: "version"},
		},
	}

	err := root.Execute([]string{"clenaup"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"cleanup\"") {
		t.Errorf("error = %q, want suggestion for 'cleanup'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "curator",
		Subcommands: []*Command{
			{Name: "status"},
			{Name: "cleanup"},
		},
	}

	err := root.Execute([]string{"zzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "curator",
				Summary: "Session lifecycle manager",
				Subcommands: []*Command{
					{Name: "status", Summary: "Show token usage"},
				},
			}

			err := root.Execute([]string{helpArg})
			if err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "curator",
		Subcommands: []*Command{
			{Name: "status", Summary: "Show token usage"},
		},
	}

	err := root.Execute([]string{})
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "curator",
		Description: "Session and context lifecycle manager.",
		Subcommands: []*Command{
			{Name: "status", Summary: "Show token usage against the budget"},
			{Name: "cleanup", Summary: "Archive and evict sessions"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "Check current usage",
				Command:     "curator status",
			},
			{
				Description: "Preview a moderate cleanup without deleting anything",
				Command:     "curator cleanup --strategy moderate --dry-run",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	// Verify structural elements are present.
	for _, want := range []string{
		"Session and context lifecycle manager.",
		"Usage:",
		"curator <command> [flags]",
		"Commands:",
		"status",
		"Show token usage against the budget",
		"cleanup",
		"Archive and evict sessions",
		"Examples:",
		"curator status",
		"curator cleanup --strategy moderate",
		"Run 'curator <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "cleanup",
		Summary: "Archive and evict sessions",
		Usage:   "curator cleanup [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cleanup", pflag.ContinueOnError)
			flagSet.String("strategy", "conservative", "pruning strategy")
			flagSet.Bool("dry-run", false, "preview without deleting")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"curator cleanup [flags]",
		"Flags:",
		"strategy",
		"dry-run",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "curator"}
	archive := &Command{Name: "archive", parent: root}
	restore := &Command{Name: "restore", parent: archive}

	if got := root.fullName(); got != "curator" {
		t.Errorf("root.fullName() = %q, want %q", got, "curator")
	}
	if got := archive.fullName(); got != "curator archive" {
		t.Errorf("archive.fullName() = %q, want %q", got, "curator archive")
	}
	if got := restore.fullName(); got != "curator archive restore" {
		t.Errorf("restore.fullName() = %q, want %q", got, "curator archive restore")
	}
}
