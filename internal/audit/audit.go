// Package audit compares row counts between the legacy database and the
// hosted store after a migration run.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Counter counts rows of a table matching a filter. The filter syntax
// belongs to the backend: a SQL WHERE fragment for SQL counters, a PostgREST
// query for the REST client.
type Counter interface {
	Count(ctx context.Context, table, filter string) (int64, error)
}

// Side names a table (and optional filter) on one system.
type Side struct {
	Table  string `yaml:"table" json:"table"`
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// Pair is one entity compared across both systems.
type Pair struct {
	Name   string `yaml:"name" json:"name"`
	Legacy Side   `yaml:"legacy" json:"legacy"`
	Target Side   `yaml:"target" json:"target"`
}

// Status classifies a comparison.
type Status string

const (
	StatusOK      Status = "ok"
	StatusMissing Status = "missing" // target has fewer rows
	StatusSurplus Status = "surplus" // target has more rows
	StatusError   Status = "error"
)

// Result is the comparison of one pair.
type Result struct {
	Name   string `json:"name"`
	Legacy int64  `json:"legacy"`
	Target int64  `json:"target"`
	Diff   int64  `json:"diff"` // target - legacy
	Status Status `json:"status"`
	Err    string `json:"error,omitempty"`
}

// Report is a full audit.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Results     []Result  `json:"results"`
}

// OK reports whether every pair matched.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if res.Status != StatusOK {
			return false
		}
	}
	return true
}

// Totals sums both sides over the pairs that could be counted.
func (r Report) Totals() (legacy, target int64) {
	for _, res := range r.Results {
		if res.Status == StatusError {
			continue
		}
		legacy += res.Legacy
		target += res.Target
	}
	return legacy, target
}

// Compare counts every pair on both systems. A failing count marks that
// pair as an error and the audit carries on.
func Compare(ctx context.Context, legacy, target Counter, pairs []Pair) Report {
	rep := Report{GeneratedAt: time.Now().UTC()}
	for _, p := range pairs {
		res := Result{Name: p.Name}

		l, err := legacy.Count(ctx, p.Legacy.Table, p.Legacy.Filter)
		if err != nil {
			slog.Error("audit: legacy count failed", "pair", p.Name, "table", p.Legacy.Table, "err", err)
			res.Status, res.Err = StatusError, err.Error()
			rep.Results = append(rep.Results, res)
			continue
		}
		tg, err := target.Count(ctx, p.Target.Table, p.Target.Filter)
		if err != nil {
			slog.Error("audit: target count failed", "pair", p.Name, "table", p.Target.Table, "err", err)
			res.Legacy = l
			res.Status, res.Err = StatusError, err.Error()
			rep.Results = append(rep.Results, res)
			continue
		}

		res.Legacy, res.Target, res.Diff = l, tg, tg-l
		switch {
		case res.Diff == 0:
			res.Status = StatusOK
		case res.Diff < 0:
			res.Status = StatusMissing
		default:
			res.Status = StatusSurplus
		}
		slog.Info("audit: compared", "pair", p.Name, "legacy", l, "target", tg, "status", res.Status)
		rep.Results = append(rep.Results, res)
	}
	return rep
}
