// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/openclaw-foundation/curator/lib/cli"
	"github.com/openclaw-foundation/curator/lib/emergency"
)

type emergencyParams struct {
	configParams
	cli.JSONOutput
}

func emergencyCommand() *cli.Command {
	var params emergencyParams

	return &cli.Command{
		Name:    "emergency",
		Summary: "Run the full emergency recovery procedure",
		Usage:   "curator emergency [flags]",
		Description: `Archive every live session into an emergency bundle, then delete
everything older than the keep-recent window while preserving a
minimum number of the newest sessions. Use this when the store has
blown past the emergency threshold and routine strategies cannot
bring it back.

The run succeeds only if utilization lands below the emergency
threshold afterwards; a failed run delivers a critical notification
and exits non-zero.`,
		Examples: []cli.Example{
			{
				Description: "Recover an overfull store",
				Command:     "curator emergency",
			},
			{
				Description: "Recover and capture the report for auditing",
				Command:     "curator emergency --json > emergency-report.json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("emergency", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}
			handler, err := kit.emergencyHandler()
			if err != nil {
				return err
			}

			report, err := handler.Execute(context.Background())
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(report); done {
				if err == nil && !report.Success {
					return &cli.ExitError{Code: 1}
				}
				return err
			}

			printEmergencyReport(report)
			if !report.Success {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func printEmergencyReport(report *emergency.Report) {
	fmt.Printf("Emergency %s finished in %s\n", report.ID, report.Duration.Round(10*time.Millisecond))
	fmt.Printf("  Archived: %d of %d sessions", report.Archived, report.SessionsBefore)
	if report.Bundle != "" {
		fmt.Printf(" → %s", report.Bundle)
	}
	fmt.Println()
	fmt.Printf("  Deleted:  %d sessions, ~%s tokens freed\n", report.Deleted, formatTokens(report.FreedCost))
	if report.Failed > 0 {
		fmt.Printf("  Failed:   %d deletions (affected sessions remain live)\n", report.Failed)
	}
	fmt.Printf("  Usage:    %.1f%% → %.1f%%\n", report.UtilizationBefore, report.UtilizationAfter)

	if report.Success {
		fmt.Println("Store is back under the emergency threshold.")
	} else {
		fmt.Fprintln(os.Stderr, "emergency cleanup did not bring utilization under the threshold")
	}
}
