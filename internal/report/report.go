// Package report renders repair and audit results for the terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/gonkalabs/sygfp-datafix/internal/audit"
	"github.com/gonkalabs/sygfp-datafix/internal/repair"
)

// Styles used by the renderer. Colours are dropped automatically when
// output is not a terminal.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	deleteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Strikethrough(true)
	insertStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	numberColumn = lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
)

// Diff marks what changed between before and after: deletions as [-x-],
// insertions as {+x+}.
func Diff(before, after string) string {
	dmp := diffmatchpatch.New()
	var b strings.Builder
	for _, d := range dmp.DiffMain(before, after, false) {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			b.WriteString(deleteStyle.Render("[-" + d.Text + "-]"))
		case diffmatchpatch.DiffInsert:
			b.WriteString(insertStyle.Render("{+" + d.Text + "+}"))
		}
	}
	return b.String()
}

// minNameWidth is the narrowest the first column gets.
const minNameWidth = 24

// nameWidth fits the first column to the longest name plus a gap, so that
// long table names never wrap onto a second line.
func nameWidth(names []string) int {
	w := minNameWidth
	for _, n := range names {
		w = max(w, lipgloss.Width(n)+2)
	}
	return w
}

func row(width int, name string, cols ...string) string {
	cells := []string{lipgloss.NewStyle().Width(width).Render(name)}
	for _, c := range cols {
		cells = append(cells, numberColumn.Render(c))
	}
	return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " ")
}

// Summary renders the per-table statistics of a repair run, followed by the
// sample changes.
func Summary(rep repair.Report) string {
	var b strings.Builder
	title := "Repair summary"
	if rep.RunID > 0 {
		title = fmt.Sprintf("Repair summary (run %d)", rep.RunID)
	}
	b.WriteString(titleStyle.Render(title) + "\n")

	names := make([]string, len(rep.Tables))
	for i, st := range rep.Tables {
		names[i] = st.Table
		if st.DryRun {
			names[i] += " (dry)"
		}
	}
	w := nameWidth(names)
	b.WriteString(mutedStyle.Render(row(w, "table", "scanned", "fixed", "fields", "errors")) + "\n")

	var tot repair.Stats
	for i, st := range rep.Tables {
		line := row(w, names[i], itoa(st.Scanned), itoa(st.Fixed), itoa(st.FieldsFixed), itoa(st.Errors))
		if st.Errors > 0 {
			line = warnStyle.Render(line)
		}
		b.WriteString(line + "\n")
		tot.Scanned += st.Scanned
		tot.Fixed += st.Fixed
		tot.FieldsFixed += st.FieldsFixed
		tot.Errors += st.Errors
	}
	b.WriteString(titleStyle.Render(row(w, "TOTAL", itoa(tot.Scanned), itoa(tot.Fixed), itoa(tot.FieldsFixed), itoa(tot.Errors))) + "\n")

	for _, st := range rep.Tables {
		if len(st.Examples) == 0 {
			continue
		}
		b.WriteString("\n" + titleStyle.Render(fmt.Sprintf("%s: first %d change(s)", st.Table, len(st.Examples))) + "\n")
		for _, ex := range st.Examples {
			b.WriteString("  " + ex.Label + "\n")
			for _, c := range ex.Changes {
				b.WriteString(fmt.Sprintf("    %s: %s\n", c.Field, Diff(c.Before, c.After)))
			}
		}
	}
	return b.String()
}

// Audit renders a count comparison.
func Audit(rep audit.Report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Migration audit "+rep.GeneratedAt.Format("2006-01-02 15:04:05 MST")) + "\n")
	names := make([]string, len(rep.Results))
	for i, r := range rep.Results {
		names[i] = r.Name
	}
	w := nameWidth(names)
	b.WriteString(mutedStyle.Render(row(w, "entity", "legacy", "target", "diff", "status")) + "\n")
	for _, r := range rep.Results {
		status := string(r.Status)
		line := row(w, r.Name, itoa64(r.Legacy), itoa64(r.Target), signed(r.Diff), status)
		switch r.Status {
		case audit.StatusOK:
			line = okStyle.Render(line)
		case audit.StatusError:
			line = errStyle.Render(line) + "\n    " + mutedStyle.Render(r.Err)
		default:
			line = warnStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	l, t := rep.Totals()
	b.WriteString(titleStyle.Render(row(w, "TOTAL", itoa64(l), itoa64(t), signed(t-l), "")) + "\n")
	return b.String()
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

func itoa64(n int64) string { return fmt.Sprintf("%d", n) }

func signed(n int64) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}
