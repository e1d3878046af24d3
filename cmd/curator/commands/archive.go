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
)

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:    "archive",
		Summary: "Inspect and manage archived session bundles",
		Description: `Work with the compressed bundles that cleanups and the emergency
procedure write. Bundles are self-describing: each carries a
manifest naming every session inside, so listing and verification
never need the live store.`,
		Usage: "curator archive <command> [flags]",
		Subcommands: []*cli.Command{
			archiveListCommand(),
			archiveShowCommand(),
			archiveRestoreCommand(),
			archiveVerifyCommand(),
			archiveSweepCommand(),
		},
	}
}

type archiveListParams struct {
	configParams
	cli.JSONOutput
	Reason string `flag:"reason" desc:"filter bundles by archive reason"`
}

func archiveListCommand() *cli.Command {
	var params archiveListParams

	return &cli.Command{
		Name:    "list",
		Summary: "List archived bundles",
		Usage:   "curator archive list [flags]",
		Examples: []cli.Example{
			{
				Description: "List every bundle",
				Command:     "curator archive list",
			},
			{
				Description: "List only emergency bundles as JSON",
				Command:     "curator archive list --reason emergency-cleanup --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}
			archiver, err := kit.archiver()
			if err != nil {
				return err
			}

			bundles, err := archiver.List()
			if err != nil {
				return err
			}
			if params.Reason != "" {
				filtered := bundles[:0]
				for _, bundle := range bundles {
					if bundle.Reason == params.Reason {
						filtered = append(filtered, bundle)
					}
				}
				bundles = filtered
			}

			if done, err := params.EmitJSON(bundles); done {
				return err
			}

			if len(bundles) == 0 {
				fmt.Println("No bundles found.")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "NAME\tCREATED\tSESSIONS\tCODEC\tENCRYPTED\tSIZE\tREASON\n")
			for _, bundle := range bundles {
				encrypted := "no"
				if bundle.Encrypted {
					encrypted = "yes"
				}
				fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					bundle.Name,
					bundle.CreatedAt.Format("2006-01-02 15:04"),
					bundle.SessionCount,
					bundle.Codec,
					encrypted,
					formatSize(bundle.SizeBytes),
					bundle.Reason,
				)
			}
			return writer.Flush()
		},
	}
}

type archiveShowParams struct {
	configParams
	cli.JSONOutput
}

func archiveShowCommand() *cli.Command {
	var params archiveShowParams

	return &cli.Command{
		Name:    "show",
		Summary: "Show the manifest of a bundle",
		Usage:   "curator archive show <bundle> [flags]",
		Description: `Read the manifest out of a bundle file and print the sessions it
contains. The manifest is the first entry in the bundle, so this
reads only the head of the archive.`,
		Examples: []cli.Example{
			{
				Description: "Show what a bundle contains",
				Command:     "curator archive show sessions-2026-03-01.tar.zst",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("bundle name argument required\n\nUsage: curator archive show <bundle> [flags]")
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}
			archiver, err := kit.archiver()
			if err != nil {
				return err
			}

			manifest, err := archiver.Show(args[0])
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(manifest); done {
				return err
			}

			fmt.Printf("Bundle %s (%s), created %s\n",
				manifest.Name, manifest.Reason,
				manifest.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Println()

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "SESSION\tFILE\tCOST\tMSGS\tSIZE\n")
			for _, entry := range manifest.Sessions {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
					entry.ID,
					entry.FileName,
					formatTokens(entry.Cost),
					entry.Messages,
					formatSize(entry.SizeBytes),
				)
			}
			return writer.Flush()
		},
	}
}

type archiveRestoreParams struct {
	configParams
	cli.JSONOutput
	Target string `flag:"target,t" desc:"directory to restore into (default: the live session store)"`
}

func archiveRestoreCommand() *cli.Command {
	var params archiveRestoreParams

	return &cli.Command{
		Name:    "restore",
		Summary: "Restore sessions from a bundle",
		Usage:   "curator archive restore <bundle> [flags]",
		Description: `Extract a bundle's sessions back into the live store (or another
directory). Each file's checksum is verified against the manifest
before it lands; sessions that already exist in the target are
skipped, never overwritten.`,
		Examples: []cli.Example{
			{
				Description: "Restore a bundle into the live store",
				Command:     "curator archive restore sessions-2026-03-01.tar.zst",
			},
			{
				Description: "Extract into a scratch directory for inspection",
				Command:     "curator archive restore sessions-2026-03-01.tar.zst --target /tmp/recovered",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("restore", &params)
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("bundle name argument required\n\nUsage: curator archive restore <bundle> [flags]")
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}
			archiver, err := kit.archiver()
			if err != nil {
				return err
			}

			target := params.Target
			if target == "" {
				target = kit.policy.Paths.Sessions
			}

			result, err := archiver.Restore(context.Background(), args[0], target)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}

			fmt.Printf("Restored %d sessions from %s to %s\n", result.Restored, result.Bundle, target)
			if result.Skipped > 0 {
				fmt.Printf("Skipped %d sessions already present in the target.\n", result.Skipped)
			}
			return nil
		},
	}
}

type archiveVerifyParams struct {
	configParams
}

func archiveVerifyCommand() *cli.Command {
	var params archiveVerifyParams

	return &cli.Command{
		Name:    "verify",
		Summary: "Verify a bundle's checksum",
		Usage:   "curator archive verify <bundle> [flags]",
		Description: `Recompute the bundle file's checksum and compare it against the
index. Exits 1 if the bundle is corrupt or missing from the index,
so it can gate restore scripts.`,
		Examples: []cli.Example{
			{
				Description: "Verify before restoring",
				Command:     "curator archive verify sessions-2026-03-01.tar.zst && curator archive restore sessions-2026-03-01.tar.zst",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("verify", &params)
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("bundle name argument required\n\nUsage: curator archive verify <bundle> [flags]")
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}
			archiver, err := kit.archiver()
			if err != nil {
				return err
			}

			if err := archiver.Verify(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
				return &cli.ExitError{Code: 1}
			}
			fmt.Printf("%s: OK\n", args[0])
			return nil
		},
	}
}

type archiveSweepParams struct {
	configParams
	cli.JSONOutput
}

func archiveSweepCommand() *cli.Command {
	var params archiveSweepParams

	return &cli.Command{
		Name:    "sweep",
		Summary: "Delete bundles past the retention period",
		Usage:   "curator archive sweep [flags]",
		Description: `Delete bundles older than the configured retention period and drop
them from the index. A retention of zero days keeps bundles
forever, in which case the sweep is a no-op.`,
		Examples: []cli.Example{
			{
				Description: "Sweep expired bundles from cron",
				Command:     "curator archive sweep",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("sweep", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			kit, err := openToolkit(params.configParams)
			if err != nil {
				return err
			}
			archiver, err := kit.archiver()
			if err != nil {
				return err
			}

			result, err := archiver.SweepExpired(context.Background())
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}

			if result.Deleted == 0 {
				fmt.Println("No expired bundles.")
				return nil
			}
			fmt.Printf("Deleted %d expired bundles, freed %s.\n", result.Deleted, formatSize(result.FreedBytes))
			return nil
		},
	}
}
