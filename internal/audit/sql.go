package audit

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// countQuery builds the COUNT statement. table must be a plain (optionally
// schema-qualified) identifier; where comes from the operator's job file.
func countQuery(table, where string) (string, error) {
	if !tableNameRe.MatchString(table) {
		return "", fmt.Errorf("audit: invalid table name %q", table)
	}
	q := "SELECT COUNT(*) FROM " + table
	if w := strings.TrimSpace(where); w != "" {
		q += " WHERE " + w
	}
	return q, nil
}

// SQLCounter counts through database/sql.
type SQLCounter struct {
	db *sql.DB
}

// OpenSQL opens a counter from a DSN. "sqlite://<path>" (or a bare path)
// uses the pure-Go SQLite driver, "postgres://" and "postgresql://" go
// through pgx.
func OpenSQL(dsn string) (*SQLCounter, error) {
	driver, source := "sqlite", dsn
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		source = strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		driver = "pgx"
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	return &SQLCounter{db: db}, nil
}

// NewSQLCounter wraps an already open database.
func NewSQLCounter(db *sql.DB) *SQLCounter {
	return &SQLCounter{db: db}
}

// Count implements Counter. filter is a SQL WHERE fragment.
func (c *SQLCounter) Count(ctx context.Context, table, filter string) (int64, error) {
	q, err := countQuery(table, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count %s: %w", table, err)
	}
	return n, nil
}

// Close releases the database.
func (c *SQLCounter) Close() error {
	return c.db.Close()
}

// PoolCounter counts directly against the hosted Postgres.
type PoolCounter struct {
	pool *pgxpool.Pool
}

// NewPoolCounter connects a pgx pool.
func NewPoolCounter(ctx context.Context, dsn string) (*PoolCounter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return &PoolCounter{pool: pool}, nil
}

// Count implements Counter. filter is a SQL WHERE fragment.
func (c *PoolCounter) Count(ctx context.Context, table, filter string) (int64, error) {
	q, err := countQuery(table, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count %s: %w", table, err)
	}
	return n, nil
}

// Close releases the pool.
func (c *PoolCounter) Close() {
	c.pool.Close()
}
