package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/sygfp-datafix/internal/config"
	"github.com/gonkalabs/sygfp-datafix/internal/postgrest"
)

var (
	verbose bool
	logJSON bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("datafix failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "datafix",
		Short: "Repair and audit records migrated from the legacy budget system",
		Long: `datafix repairs text fields damaged by the legacy export, where every
"S" may have been written as "è" (and occasionally "à"). Each occurrence is
classified from its neighbours so legitimate French accents survive.

It also audits migration counts and derives the identifiers the migration
assigned to legacy rows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		newSelftestCmd(),
		newFixCmd(),
		newRepairCmd(),
		newJournalCmd(),
		newAuditCmd(),
		newVerifyCmd(),
		newIdentCmd(),
	)
	return root
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	if logJSON {
		h = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	}
	slog.SetDefault(slog.New(h))
}

// newStore builds the REST client from the environment.
func newStore(cfg *config.Cfg) (*postgrest.Client, error) {
	if err := cfg.RequireStore(); err != nil {
		return nil, err
	}
	policy := postgrest.DefaultPolicy
	policy.MaxAttempts = cfg.MaxAttempts
	policy.BaseDelay = cfg.Backoff
	return postgrest.New(cfg.StoreURL, cfg.StoreKey,
		postgrest.WithPolicy(policy),
		postgrest.WithPageSize(cfg.PageSize),
	), nil
}
