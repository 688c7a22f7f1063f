// Package repair drives encfix over the records of the hosted store: it
// pages through each configured table, repairs the selected text fields and
// writes back only the fields that changed.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gonkalabs/sygfp-datafix/internal/encfix"
	"github.com/gonkalabs/sygfp-datafix/internal/journal"
)

// maxExamples bounds the sample changes kept per table.
const maxExamples = 10

// ErrSelfTest is returned when the classifier fails its reference cases;
// nothing is written in that case.
var ErrSelfTest = errors.New("repair: classifier self-test failed")

// Store is the record store as seen by the driver. Update addresses the row
// whose key column equals id.
type Store interface {
	Fetch(ctx context.Context, table, filter string, fields []string, offset, limit int) ([]map[string]any, error)
	FetchAll(ctx context.Context, table, filter string, fields []string) ([]map[string]any, error)
	Update(ctx context.Context, table, key, id string, fields map[string]any) error
}

// Recorder receives the changes of a run.
type Recorder interface {
	BeginRun(ctx context.Context, label string, dryRun bool) (int64, error)
	Record(ctx context.Context, e journal.Entry) error
}

// Table selects the records and fields to scan.
type Table struct {
	Name       string   `yaml:"name"`
	Filter     string   `yaml:"filter"`
	Fields     []string `yaml:"fields"`
	LabelField string   `yaml:"label_field"` // shown in logs; default "numero"
	IDField    string   `yaml:"id_field"`    // default "id"

	// DiscoverFields narrows Fields to the text columns present in a sample
	// row, and skips the table when the filter matches nothing.
	DiscoverFields bool `yaml:"discover_fields"`
}

func (t Table) idField() string {
	if t.IDField == "" {
		return "id"
	}
	return t.IDField
}

func (t Table) labelField() string {
	if t.LabelField == "" {
		return "numero"
	}
	return t.LabelField
}

// fetchFilter orders pages by the key column unless the filter sets an order.
func (t Table) fetchFilter() string {
	if strings.Contains("&"+t.Filter, "&order=") {
		return t.Filter
	}
	order := "order=" + t.idField() + ".asc"
	if t.Filter == "" {
		return order
	}
	return t.Filter + "&" + order
}

// selectFields returns id, label and the scanned fields without duplicates.
func (t Table) selectFields() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range append([]string{t.idField(), t.labelField()}, t.Fields...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Change is one repaired field.
type Change struct {
	Field  string
	Before string
	After  string
}

// Example is a sample of what was changed in one record.
type Example struct {
	Label   string
	Changes []Change
}

// Stats summarises one table.
type Stats struct {
	Table       string
	DryRun      bool
	Scanned     int // records fetched
	Fixed       int // records updated (or that would be, on a dry run)
	FieldsFixed int // fields with a repair
	Errors      int // failed updates and unusable records
	Examples    []Example
}

// Report is the outcome of Run.
type Report struct {
	RunID  int64
	Tables []Stats
}

// Driver applies the classifier to a set of tables.
type Driver struct {
	Store   Store
	Journal Recorder // optional
	Workers int      // concurrent updates; <1 means 1
	DryRun  bool
}

// pending is a record with at least one repaired field.
type pending struct {
	key     string
	id      string
	label   string
	changes []Change
}

// Run checks the classifier against its reference cases, opens a journal
// run and processes every table in order. A table whose fetch fails is
// reported and the remaining tables still run.
func (d *Driver) Run(ctx context.Context, tables []Table) (Report, error) {
	if failed := encfix.SelfTest(); len(failed) > 0 {
		for _, f := range failed {
			slog.Error("repair: self-test mismatch", "input", f.Input, "want", f.Want, "got", f.Got)
		}
		return Report{}, fmt.Errorf("%w: %d case(s)", ErrSelfTest, len(failed))
	}

	var rep Report
	if d.Journal != nil {
		names := make([]string, len(tables))
		for i, t := range tables {
			names[i] = t.Name
		}
		id, err := d.Journal.BeginRun(ctx, strings.Join(names, ","), d.DryRun)
		if err != nil {
			return rep, err
		}
		rep.RunID = id
	}

	var errs []error
	for _, t := range tables {
		st, err := d.ProcessTable(ctx, rep.RunID, t)
		rep.Tables = append(rep.Tables, st)
		if err != nil {
			if ctx.Err() != nil {
				return rep, err
			}
			slog.Error("repair: table failed", "table", t.Name, "err", err)
			errs = append(errs, err)
		}
	}
	return rep, errors.Join(errs...)
}

// ProcessTable repairs one table. runID tags journal entries; it is ignored
// when the driver has no journal.
func (d *Driver) ProcessTable(ctx context.Context, runID int64, t Table) (Stats, error) {
	st := Stats{Table: t.Name, DryRun: d.DryRun}
	if t.DiscoverFields {
		fields, found, err := d.discoverFields(ctx, t)
		if err != nil {
			return st, err
		}
		if !found {
			slog.Info("repair: no matching records, table skipped", "table", t.Name, "filter", t.Filter)
			return st, nil
		}
		if len(fields) == 0 {
			slog.Warn("repair: none of the fields exist, table skipped", "table", t.Name, "fields", t.Fields)
			return st, nil
		}
		t.Fields = fields
	}
	slog.Info("repair: processing table", "table", t.Name, "filter", t.Filter, "fields", t.Fields)

	records, err := d.Store.FetchAll(ctx, t.Name, t.fetchFilter(), t.selectFields())
	if err != nil {
		return st, fmt.Errorf("repair: fetch %s: %w", t.Name, err)
	}
	st.Scanned = len(records)
	slog.Info("repair: fetched records", "table", t.Name, "count", len(records))

	var work []pending
	for _, rec := range records {
		changes := repairRecord(rec, t.Fields)
		if len(changes) == 0 {
			continue
		}
		id, ok := stringValue(rec[t.idField()])
		if !ok || id == "" {
			slog.Warn("repair: record without id, skipped", "table", t.Name, "label", rec[t.labelField()])
			st.Errors++
			continue
		}
		label, _ := stringValue(rec[t.labelField()])
		if label == "" {
			label = "???"
		}
		st.FieldsFixed += len(changes)
		work = append(work, pending{key: t.idField(), id: id, label: label, changes: changes})
	}

	ok, err := d.apply(ctx, runID, t.Name, work)
	for i, p := range work {
		if !ok[i] {
			continue
		}
		st.Fixed++
		if len(st.Examples) < maxExamples {
			st.Examples = append(st.Examples, Example{Label: p.label, Changes: p.changes})
		}
	}
	st.Errors += countFailed(ok, len(work), err)
	return st, err
}

// apply writes the pending updates and reports which ones succeeded.
func (d *Driver) apply(ctx context.Context, runID int64, table string, work []pending) ([]bool, error) {
	ok := make([]bool, len(work))
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}

	var fixed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range work {
		g.Go(func() error {
			applied := false
			if !d.DryRun {
				fields := make(map[string]any, len(p.changes))
				for _, c := range p.changes {
					fields[c.Field] = c.After
				}
				if err := d.Store.Update(gctx, table, p.key, p.id, fields); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					slog.Error("repair: update failed", "table", table, "id", p.id, "err", err)
					return d.journal(gctx, runID, table, p, false)
				}
				applied = true
			}
			ok[i] = true

			if n := fixed.Add(1); n <= 5 || n%100 == 0 {
				for _, c := range p.changes {
					slog.Info("repair: fixed", "table", table, "n", n, "label", p.label,
						"field", c.Field, "before", c.Before, "after", c.After, "dry_run", d.DryRun)
				}
			}
			return d.journal(gctx, runID, table, p, applied)
		})
	}
	return ok, g.Wait()
}

func (d *Driver) journal(ctx context.Context, runID int64, table string, p pending, applied bool) error {
	if d.Journal == nil {
		return nil
	}
	for _, c := range p.changes {
		err := d.Journal.Record(ctx, journal.Entry{
			RunID:    runID,
			Table:    table,
			KeyField: p.key,
			RecordID: p.id,
			Label:    p.label,
			Field:    c.Field,
			Before:   c.Before,
			After:    c.After,
			Applied:  applied,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// discoverFields reads one matching row and keeps the configured fields it
// actually has as text (or null) columns. found is false when no row
// matches the filter.
func (d *Driver) discoverFields(ctx context.Context, t Table) (fields []string, found bool, err error) {
	rows, err := d.Store.Fetch(ctx, t.Name, t.fetchFilter(), nil, 0, 1)
	if err != nil {
		return nil, false, fmt.Errorf("repair: sample %s: %w", t.Name, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	for _, f := range t.Fields {
		v, ok := rows[0][f]
		if !ok {
			slog.Info("repair: column absent, skipped", "table", t.Name, "field", f)
			continue
		}
		switch v.(type) {
		case nil, string:
			fields = append(fields, f)
		default:
			slog.Info("repair: column is not text, skipped", "table", t.Name, "field", f)
		}
	}
	return fields, true, nil
}

// repairRecord returns the fields of rec whose value changes under repair.
// Absent, null and non-text values are left alone.
func repairRecord(rec map[string]any, fields []string) []Change {
	var out []Change
	for _, f := range fields {
		orig, ok := rec[f].(string)
		if !ok || !encfix.Contains(orig) {
			continue
		}
		if fixed := encfix.RepairString(orig); fixed != orig {
			out = append(out, Change{Field: f, Before: orig, After: fixed})
		}
	}
	return out
}

func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}

// countFailed counts updates that were attempted but did not succeed. When
// the group aborted, unfinished updates are not counted.
func countFailed(ok []bool, n int, err error) int {
	if err != nil {
		return 0
	}
	failed := 0
	for i := 0; i < n; i++ {
		if !ok[i] {
			failed++
		}
	}
	return failed
}
