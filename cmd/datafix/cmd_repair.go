package main

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/sygfp-datafix/internal/config"
	"github.com/gonkalabs/sygfp-datafix/internal/journal"
	"github.com/gonkalabs/sygfp-datafix/internal/repair"
	"github.com/gonkalabs/sygfp-datafix/internal/report"
)

func newRepairCmd() *cobra.Command {
	var (
		jobPath string
		tables  []string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair the configured tables in the record store",
		Long: `Pages through every configured table, repairs the selected text fields
and writes back the fields that changed. Every change is recorded in the
local journal so the run can be reviewed or reverted.

The classifier self-test runs first; nothing is written if it fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			job, err := config.LoadJob(jobPath)
			if err != nil {
				return err
			}
			selected, err := selectTables(job, tables)
			if err != nil {
				return err
			}
			store, err := newStore(cfg)
			if err != nil {
				return err
			}
			jr, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer jr.Close()

			d := &repair.Driver{Store: store, Journal: jr, Workers: cfg.Workers, DryRun: dryRun}
			slog.Info("repair: starting", "tables", len(selected), "dry_run", dryRun, "journal", cfg.JournalPath)
			rep, runErr := d.Run(cmd.Context(), selected)
			if len(rep.Tables) > 0 {
				fmt.Fprint(cmd.OutOrStdout(), report.Summary(rep))
			}
			if dryRun && runErr == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "\n[DRY RUN] nothing was written; run without --dry-run to apply.")
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "YAML job file (default: built-in tables)")
	cmd.Flags().StringSliceVar(&tables, "table", nil, "only process these tables")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	return cmd
}

// selectTables narrows the job to the named tables, keeping job order.
func selectTables(job config.Job, names []string) ([]repair.Table, error) {
	if len(names) == 0 {
		return job.Tables, nil
	}
	var out []repair.Table
	for _, n := range names {
		t, ok := job.Table(n)
		if !ok {
			return nil, fmt.Errorf("repair: table %q is not in the job", n)
		}
		out = append(out, t)
	}
	return out, nil
}

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect or roll back previous repair runs",
	}
	cmd.AddCommand(newJournalListCmd(), newJournalRevertCmd())
	return cmd
}

func newJournalListCmd() *cobra.Command {
	var runID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, or the changes of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			jr, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer jr.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if runID == 0 {
				runs, err := jr.Runs(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "RUN\tSTARTED\tTABLES\tCHANGES\tSTATE")
				for _, r := range runs {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
						r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Label, r.Entries, runState(r))
				}
				return nil
			}

			if _, err := jr.Run(cmd.Context(), runID); err != nil {
				return fmt.Errorf("journal: run %d: %w", runID, err)
			}
			entries, err := jr.Entries(cmd.Context(), runID)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "TABLE\tRECORD\tFIELD\tCHANGE\tAPPLIED")
			for _, e := range entries {
				ref := e.Label
				if ref == "" {
					ref = e.RecordID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n",
					e.Table, ref, e.Field, oneLine(report.Diff(e.Before, e.After)), e.Applied)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&runID, "run", 0, "show the changes of this run")
	return cmd
}

func newJournalRevertCmd() *cobra.Command {
	var runID int64
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Restore the values a run replaced",
		Long: `Writes back the original value of every field the run changed. Fields
edited since the run are left alone and reported as conflicts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == 0 {
				return fmt.Errorf("journal: --run is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := newStore(cfg)
			if err != nil {
				return err
			}
			jr, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer jr.Close()

			st, err := repair.Revert(cmd.Context(), store, jr, runID)
			fmt.Fprintf(cmd.OutOrStdout(), "run %d: %d field(s) restored, %d conflict(s), %d error(s)\n",
				runID, st.Reverted, st.Conflicts, st.Errors)
			return err
		},
	}
	cmd.Flags().Int64Var(&runID, "run", 0, "run to revert")
	return cmd
}

func runState(r journal.Run) string {
	switch {
	case r.RevertedAt != nil:
		return "reverted"
	case r.DryRun:
		return "dry-run"
	default:
		return "applied"
	}
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", `\n`, "\t", " ").Replace(s)
}
