// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the curator CLI command tree. Each command
// wires the lifecycle libraries together through a shared toolkit:
// policy loading, the session store, the usage monitor, and the
// services layered on top of them.
package commands

import (
	"fmt"

	"github.com/openclaw-foundation/curator/lib/cli"
	"github.com/openclaw-foundation/curator/lib/version"
)

// Root builds and returns the complete curator command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "curator",
		Description: `Curator: token-budget lifecycle manager for session stores.

Measure what a directory of conversation sessions costs against a
token budget, archive and evict sessions by escalating strategies,
and recover automatically when the store blows past its thresholds.`,
		Subcommands: []*cli.Command{
			statusCommand(),
			analyzeCommand(),
			cleanupCommand(),
			emergencyCommand(),
			watchCommand(),
			archiveCommand(),
			topCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("curator %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "See how full the store is",
				Command:     "curator status",
			},
			{
				Description: "Preview what a moderate cleanup would evict",
				Command:     "curator cleanup --strategy moderate --dry-run",
			},
			{
				Description: "Watch the store and auto-clean in the foreground",
				Command:     "curator watch",
			},
			{
				Description: "List the bundles past cleanups have written",
				Command:     "curator archive list",
			},
			{
				Description: "Bring an overfull store back under control",
				Command:     "curator emergency",
			},
		},
	}
}
