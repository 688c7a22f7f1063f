package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/sygfp-datafix/internal/attest"
	"github.com/gonkalabs/sygfp-datafix/internal/audit"
	"github.com/gonkalabs/sygfp-datafix/internal/config"
	"github.com/gonkalabs/sygfp-datafix/internal/report"
)

// errAuditMismatch makes the command exit non-zero when counts differ.
var errAuditMismatch = errors.New("audit: counts differ")

func newAuditCmd() *cobra.Command {
	var (
		jobPath string
		outPath string
		sign    bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare row counts between the legacy database and the record store",
		Long: `Counts every audited entity on both systems. The legacy side is read from
DATAFIX_LEGACY_DSN (sqlite:// or postgres://). The target side is read from
DATAFIX_TARGET_DSN when set (postgres:// through a connection pool, anything
else as for the legacy side), otherwise through the REST API.

With --sign the report is signed with DATAFIX_SIGNING_KEY; datafix verify
checks it later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			job, err := config.LoadJob(jobPath)
			if err != nil {
				return err
			}
			if len(job.Audit) == 0 {
				return fmt.Errorf("audit: job has no audit entries")
			}
			if cfg.LegacyDSN == "" {
				return fmt.Errorf("DATAFIX_LEGACY_DSN must be set")
			}
			var signer *attest.Signer
			if sign {
				if cfg.SigningKey == "" {
					return fmt.Errorf("--sign needs DATAFIX_SIGNING_KEY")
				}
				if signer, err = attest.NewSigner(cfg.SigningKey); err != nil {
					return err
				}
			}

			legacy, err := audit.OpenSQL(cfg.LegacyDSN)
			if err != nil {
				return err
			}
			defer legacy.Close()

			var target audit.Counter
			switch {
			case strings.HasPrefix(cfg.TargetDSN, "postgres"):
				pool, err := audit.NewPoolCounter(ctx, cfg.TargetDSN)
				if err != nil {
					return err
				}
				defer pool.Close()
				target = pool
			case cfg.TargetDSN != "":
				db, err := audit.OpenSQL(cfg.TargetDSN)
				if err != nil {
					return err
				}
				defer db.Close()
				target = db
			default:
				store, err := newStore(cfg)
				if err != nil {
					return err
				}
				target = store
			}

			rep := audit.Compare(ctx, legacy, target, job.Audit)
			fmt.Fprint(cmd.OutOrStdout(), report.Audit(rep))

			if outPath != "" || signer != nil {
				var doc any = rep
				if signer != nil {
					env, err := signer.Sign(rep)
					if err != nil {
						return err
					}
					doc = env
				}
				if outPath == "" {
					outPath = "audit-" + rep.GeneratedAt.Format("20060102-150405") + ".json"
				}
				if err := writeJSON(outPath, doc); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", outPath)
			}

			if !rep.OK() {
				return errAuditMismatch
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "YAML job file (default: built-in entities)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the report as JSON")
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the written report")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "verify <report.json>",
		Short: "Check the signature of a signed report",
		Long: `Checks that the report has not been altered since it was signed. Any key
can produce a valid signature, so pass --expect (or set
DATAFIX_TRUSTED_SIGNER) to also require the operator address that should
have signed it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expect == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				expect = cfg.TrustedSigner
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var env attest.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("verify: %s: %w", args[0], err)
			}
			if len(env.Payload) == 0 {
				return fmt.Errorf("verify: %s is not a signed report", args[0])
			}
			if expect == "" {
				signer, err := attest.Verify(env)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK: signed by %s (digest %s), signer not checked\n", signer, env.Digest)
				return nil
			}
			signer, err := attest.VerifyFrom(env, expect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: signed by %s (digest %s)\n", signer, env.Digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&expect, "expect", "", "address the report must be signed by (default $DATAFIX_TRUSTED_SIGNER)")
	return cmd
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
