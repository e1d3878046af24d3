// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/openclaw-foundation/curator/lib/cli"
	"github.com/openclaw-foundation/curator/lib/notify"
	"github.com/openclaw-foundation/curator/lib/prune"
)

type cleanupParams struct {
	configParams
	cli.JSONOutput
	Strategy string `flag:"strategy,s" desc:"pruning strategy: conservative, moderate, aggressive, emergency" default:"conservative"`
	DryRun   bool   `flag:"dry-run,n" desc:"preview the eviction plan without archiving or deleting"`
}

func cleanupCommand() *cli.Command {
	var params cleanupParams

	return &cli.Command{
		Name:    "cleanup",
		Summary: "Archive and evict sessions by strategy",
		Usage:   "curator cleanup [flags]",
		Description: `Select eviction candidates with the chosen strategy, archive them
into a bundle, and only then delete the live files. If the bundle
write fails, nothing is deleted.

Strategies escalate in reach: conservative evicts only age-expired
sessions; moderate adds the lowest-ranked quarter of the remainder
when utilization is high; aggressive evicts a utilization-scaled
fraction of everything eligible; emergency ignores the engagement
floor and clears the whole keep-recent overhang.

Sessions inside the keep-recent window or above the high-engagement
message floor are protected from every strategy except emergency.`,
		Examples: []cli.Example{
			{
				Description: "Evict sessions past the age horizon",
				Command:     "curator cleanup",
			},
			{
				Description: "Preview a moderate cleanup without touching anything",
				Command:     "curator cleanup --strategy moderate --dry-run",
			},
			{
				Description: "Free a large fraction of an overfull store",
				Command:     "curator cleanup --strategy aggressive",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("cleanup", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			strategy, err := prune.ParseStrategy(params.Strategy)
			if err != nil {
				return err
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}
			pruner, err := kit.pruner()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if params.DryRun {
				plan, err := pruner.Preview(ctx, strategy)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(plan); done {
					return err
				}
				printPlan(plan)
				return nil
			}

			result, err := pruner.Prune(ctx, strategy, "manual")
			if err != nil {
				return err
			}

			// Routine cleanup reports go to the notifier; delivery
			// failures are logged there and never fail the cleanup.
			if result.Evicted > 0 {
				_ = kit.notifier().Deliver(ctx, notify.Report{
					Title:    "cleanup complete",
					Body:     fmt.Sprintf("evicted %d sessions (%s strategy), freed ~%s tokens", result.Evicted, result.Strategy, formatTokens(result.FreedCost)),
					Severity: notify.SeverityInfo,
					Payload:  result,
				})
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func printPlan(plan *prune.Plan) {
	fmt.Printf("Strategy %s at %.1f%% utilization: %d of %d sessions selected (%d protected)\n",
		plan.Strategy, plan.Utilization, len(plan.Candidates), plan.TotalSessions, plan.Protected)

	if len(plan.Candidates) == 0 {
		fmt.Println("Nothing to evict.")
		return
	}

	fmt.Println()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "SESSION\tAGE\tCOST\tMSGS\tPRIORITY\tRANK\tIMPORTANCE\n")
	for _, candidate := range plan.Candidates {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%.1f\t%.1f\n",
			candidate.ID,
			formatAge(candidate.Age),
			formatTokens(candidate.Cost),
			candidate.Messages,
			candidate.Priority,
			candidate.Rank,
			candidate.Importance,
		)
	}
	writer.Flush()

	fmt.Printf("\nWould free ~%s tokens. Re-run without --dry-run to execute.\n",
		formatTokens(plan.FreedCost))
}

func printResult(result *prune.Result) {
	if result.Selected == 0 {
		fmt.Println("Nothing to evict.")
		return
	}

	fmt.Printf("Evicted %d of %d selected sessions, freed ~%s tokens (%.1f%% → %.1f%% utilization)\n",
		result.Evicted, result.Selected, formatTokens(result.FreedCost),
		result.UtilizationBefore, result.UtilizationAfter)
	if result.Bundle != "" {
		fmt.Printf("Archived to %s\n", result.Bundle)
	}
	if result.Failed > 0 {
		fmt.Printf("%d deletions failed; the affected sessions remain live and archived.\n", result.Failed)
	}
}
