package repair

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gonkalabs/sygfp-datafix/internal/journal"
)

// History is the read side of the journal used to roll a run back.
type History interface {
	Run(ctx context.Context, id int64) (journal.Run, error)
	Entries(ctx context.Context, runID int64) ([]journal.Entry, error)
	MarkReverted(ctx context.Context, id int64) error
}

// RevertStats summarises a rollback.
type RevertStats struct {
	Reverted  int // fields restored
	Conflicts int // fields edited since the run; left alone
	Errors    int
}

// Revert restores the "before" value of every applied entry of a run,
// newest first. A field whose current value no longer equals the repaired
// value was edited after the run and is skipped. The run is marked reverted
// only when nothing failed.
func Revert(ctx context.Context, store Store, hist History, runID int64) (RevertStats, error) {
	var st RevertStats
	run, err := hist.Run(ctx, runID)
	if err != nil {
		return st, err
	}
	if run.RevertedAt != nil {
		return st, fmt.Errorf("repair: run %d already reverted at %s", runID, run.RevertedAt.Format("2006-01-02 15:04:05"))
	}
	entries, err := hist.Entries(ctx, runID)
	if err != nil {
		return st, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.Applied {
			continue
		}
		key := e.KeyField
		if key == "" {
			key = "id"
		}
		current, err := store.FetchAll(ctx, e.Table, key+"=eq."+e.RecordID+"&order="+key+".asc", []string{key, e.Field})
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			slog.Error("repair: revert read failed", "table", e.Table, "id", e.RecordID, "err", err)
			st.Errors++
			continue
		}
		if len(current) != 1 {
			slog.Warn("repair: revert target missing", "table", e.Table, "id", e.RecordID)
			st.Conflicts++
			continue
		}
		if v, _ := current[0][e.Field].(string); v != e.After {
			slog.Warn("repair: field changed since run, skipped",
				"table", e.Table, "id", e.RecordID, "field", e.Field, "current", v)
			st.Conflicts++
			continue
		}
		if err := store.Update(ctx, e.Table, key, e.RecordID, map[string]any{e.Field: e.Before}); err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			slog.Error("repair: revert update failed", "table", e.Table, "id", e.RecordID, "err", err)
			st.Errors++
			continue
		}
		st.Reverted++
	}

	if st.Errors > 0 {
		return st, fmt.Errorf("repair: revert run %d: %d field(s) failed", runID, st.Errors)
	}
	return st, hist.MarkReverted(ctx, runID)
}
