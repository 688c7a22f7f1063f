// Package journal keeps a local SQLite record of every field a repair run
// changed, so a run can be reviewed afterwards or rolled back.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("journal: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	label       TEXT NOT NULL,
	dry_run     INTEGER NOT NULL DEFAULT 0,
	started_at  TEXT NOT NULL,
	reverted_at TEXT
);
CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	tbl        TEXT NOT NULL,
	key_field  TEXT NOT NULL DEFAULT 'id',
	record_id  TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	field      TEXT NOT NULL,
	old_value  TEXT NOT NULL,
	new_value  TEXT NOT NULL,
	applied    INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_run ON entries(run_id);
`

// Run is one invocation of the repair driver.
type Run struct {
	ID         int64
	Label      string
	DryRun     bool
	StartedAt  time.Time
	RevertedAt *time.Time
	Entries    int
}

// Entry is one changed field of one record.
type Entry struct {
	ID       int64
	RunID    int64
	Table    string
	KeyField string // column RecordID belongs to; "id" when empty
	RecordID string
	Label    string // human reference, e.g. the record's numero
	Field    string
	Before   string
	After    string
	Applied  bool // false for dry runs and failed updates
	At       time.Time
}

// Journal is safe for concurrent use.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the journal at path. ":memory:" is accepted.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// One writer; also keeps a ":memory:" database alive across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun registers a new run and returns its id.
func (j *Journal) BeginRun(ctx context.Context, label string, dryRun bool) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (label, dry_run, started_at) VALUES (?, ?, ?)`,
		label, boolInt(dryRun), j.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("journal: begin run: %w", err)
	}
	return res.LastInsertId()
}

// Record appends e to its run.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	at := e.At
	if at.IsZero() {
		at = j.now()
	}
	key := e.KeyField
	if key == "" {
		key = "id"
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (run_id, tbl, key_field, record_id, label, field, old_value, new_value, applied, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Table, key, e.RecordID, e.Label, e.Field, e.Before, e.After, boolInt(e.Applied),
		at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("journal: record %s/%s.%s: %w", e.Table, e.RecordID, e.Field, err)
	}
	return nil
}

// Entries lists the entries of a run in insertion order.
func (j *Journal) Entries(ctx context.Context, runID int64) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, tbl, key_field, record_id, label, field, old_value, new_value, applied, created_at
		 FROM entries WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var applied int
		var at string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Table, &e.KeyField, &e.RecordID, &e.Label, &e.Field,
			&e.Before, &e.After, &applied, &at); err != nil {
			return nil, fmt.Errorf("journal: entries: %w", err)
		}
		e.Applied = applied != 0
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs lists all runs, newest first, with their entry counts.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT r.id, r.label, r.dry_run, r.started_at, r.reverted_at,
		        (SELECT COUNT(*) FROM entries e WHERE e.run_id = r.id)
		 FROM runs r ORDER BY r.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("journal: runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: runs: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns a single run.
func (j *Journal) Run(ctx context.Context, id int64) (Run, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT r.id, r.label, r.dry_run, r.started_at, r.reverted_at,
		        (SELECT COUNT(*) FROM entries e WHERE e.run_id = r.id)
		 FROM runs r WHERE r.id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("journal: run %d: %w", id, err)
	}
	return r, nil
}

// MarkReverted stamps a run as rolled back.
func (j *Journal) MarkReverted(ctx context.Context, id int64) error {
	res, err := j.db.ExecContext(ctx, `UPDATE runs SET reverted_at = ? WHERE id = ?`,
		j.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("journal: mark reverted %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var dry int
	var started string
	var reverted sql.NullString
	if err := s.Scan(&r.ID, &r.Label, &dry, &started, &reverted, &r.Entries); err != nil {
		return Run{}, err
	}
	r.DryRun = dry != 0
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if reverted.Valid {
		t, _ := time.Parse(time.RFC3339Nano, reverted.String)
		r.RevertedAt = &t
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
