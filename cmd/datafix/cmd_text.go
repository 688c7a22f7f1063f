package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/sygfp-datafix/internal/encfix"
	"github.com/gonkalabs/sygfp-datafix/internal/ident"
)

func newSelftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Check the classifier against its reference cases",
		Args:  cobra.NoArgs,
		RunE:  runSelftest,
	}
}

func runSelftest(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	failed := encfix.SelfTest()
	for _, f := range failed {
		fmt.Fprintf(out, "FAIL %q\n     want %q\n     got  %q\n", f.Input, f.Want, f.Got)
	}
	fmt.Fprintf(out, "%d/%d cases passed\n", len(encfix.Cases)-len(failed), len(encfix.Cases))
	if len(failed) > 0 {
		return fmt.Errorf("selftest: %d case(s) failed", len(failed))
	}
	return nil
}

func newFixCmd() *cobra.Command {
	var explain bool
	cmd := &cobra.Command{
		Use:   "fix [text...]",
		Short: "Repair text given as arguments, or stdin line by line",
		Example: `  datafix fix "FOURNITURE DE BUREAUè"
  psql -At -c 'select objet from ordonnancements' | datafix fix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			emit := func(line string) {
				fmt.Fprintln(out, encfix.RepairString(line))
				if explain {
					explainPasses(out, line)
				}
			}
			if len(args) > 0 {
				for _, a := range args {
					emit(a)
				}
				return nil
			}
			sc := bufio.NewScanner(cmd.InOrStdin())
			sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			for sc.Scan() {
				emit(sc.Text())
			}
			return sc.Err()
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "list each suspect glyph with its verdict, pass by pass")
	return cmd
}

// explainPasses prints the verdicts of every pass RepairString makes. A
// restored 'S' can change the case balance of its word, so a later pass
// may correct a glyph an earlier one kept.
func explainPasses(out io.Writer, text string) {
	for pass := 1; ; pass++ {
		occ := encfix.Classify(text)
		if len(occ) == 0 {
			return
		}
		fmt.Fprintf(out, "  pass %d: %s\n", pass, text)
		for _, o := range occ {
			fmt.Fprintf(out, "    %d %c %s (%s)\n", o.Index, o.Glyph, o.Verdict, o.Rule)
		}
		next := encfix.Pass(text)
		if next == text {
			return
		}
		text = next
	}
}

func newIdentCmd() *cobra.Command {
	var prefix, scheme string
	cmd := &cobra.Command{
		Use:   "ident <table> <year> <key> | --prefix p <name>",
		Short: "Print the identifier assigned to a legacy row or named object",
		Example: `  datafix ident ordonnancement 2024 1
  datafix ident --prefix attachment "docs/Facture école.pdf"`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := ident.NewGenerator(ident.Scheme(scheme))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if prefix != "" {
				if len(args) != 1 {
					return fmt.Errorf("ident: --prefix takes exactly one name")
				}
				name := args[0]
				if prefix == "attachment" {
					name = ident.SanitizeFilename(name)
				}
				fmt.Fprintln(out, gen.ForName(prefix, name))
				return nil
			}
			if len(args) != 3 {
				return fmt.Errorf("ident: expected <table> <year> <key>")
			}
			year, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("ident: year %q: %w", args[1], err)
			}
			key, err := strconv.ParseInt(strings.TrimSpace(args[2]), 10, 64)
			if err != nil {
				return fmt.Errorf("ident: key %q: %w", args[2], err)
			}
			fmt.Fprintln(out, gen.ForRecord(args[0], year, key))
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "derive from a name under this prefix")
	cmd.Flags().StringVar(&scheme, "scheme", string(ident.SchemeMD5), "digest: md5 or blake2b")
	return cmd
}
