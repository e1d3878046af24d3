// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/openclaw-foundation/curator/lib/cli"
	"github.com/openclaw-foundation/curator/lib/clock"
)

type analyzeParams struct {
	configParams
	cli.JSONOutput
}

func analyzeCommand() *cli.Command {
	var params analyzeParams

	return &cli.Command{
		Name:    "analyze",
		Summary: "Score one session's importance",
		Usage:   "curator analyze <session-id> [flags]",
		Description: `Run the importance analyzer on a single session and print the
factor breakdown: recency, engagement, tool usage, depth, complexity,
and uniqueness sub-scores, the blended score, and the resulting
classification and pruning recommendation.

This is the same scoring the pruner consults when ranking eviction
candidates, so the output explains why a session survives (or does
not survive) a cleanup.`,
		Examples: []cli.Example{
			{
				Description: "Explain one session's score",
				Command:     "curator analyze feature-auth-refactor",
			},
			{
				Description: "Feed the breakdown to a script",
				Command:     "curator analyze feature-auth-refactor --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("analyze", &params)
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("session-id argument required\n\nUsage: curator analyze <session-id> [flags]")
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}

			record, err := kit.store.Load(args[0])
			if err != nil {
				return err
			}
			analysis := kit.analyzer.Analyze(record)

			if done, err := params.EmitJSON(analysis); done {
				return err
			}

			fmt.Printf("Session %s\n", record.ID)
			fmt.Printf("  %s, %d messages, ~%s tokens, last active %s ago\n",
				formatSize(record.SizeBytes), record.Messages,
				formatTokens(record.Cost), formatAge(record.Age(clock.Real().Now())))
			if record.Malformed {
				fmt.Println("  (content unparsable; cost estimated from file size)")
			}
			fmt.Println()

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "FACTOR\tSCORE\n")
			fmt.Fprintf(writer, "recency\t%.1f\n", analysis.Factors.Recency)
			fmt.Fprintf(writer, "engagement\t%.1f\n", analysis.Factors.Engagement)
			fmt.Fprintf(writer, "tool usage\t%.1f\n", analysis.Factors.ToolUsage)
			fmt.Fprintf(writer, "depth\t%.1f\n", analysis.Factors.Depth)
			fmt.Fprintf(writer, "complexity\t%.1f\n", analysis.Factors.Complexity)
			fmt.Fprintf(writer, "uniqueness\t%.1f\n", analysis.Factors.Uniqueness)
			fmt.Fprintf(writer, "error rate\t%.0f%%\n", analysis.Factors.ErrorRate*100)
			writer.Flush()

			fmt.Println()
			fmt.Printf("Score: %.1f (%s)\n", analysis.Score, analysis.Classification)
			fmt.Printf("Recommendation: %s\n", analysis.Recommendation)
			return nil
		},
	}
}
