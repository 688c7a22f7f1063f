package repair

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// memStore is an in-memory Store understanding "col=eq.v" and
// "col=like.prefix*" filters joined by '&'. Orders are ignored; rows keep
// insertion order.
type memStore struct {
	mu       sync.Mutex
	rows     map[string][]map[string]any
	fail     map[string]error // update errors by record id
	fetchErr error
	updates  int
	fetches  []string // filters seen, in order

	// columns, when set for a table, rejects selects of other columns the
	// way PostgREST does.
	columns map[string][]string
}

func newMemStore(table string, rows ...map[string]any) *memStore {
	return &memStore{
		rows: map[string][]map[string]any{table: rows},
		fail: map[string]error{},
	}
}

func (m *memStore) FetchAll(ctx context.Context, table, filter string, fields []string) ([]map[string]any, error) {
	return m.Fetch(ctx, table, filter, fields, 0, 0)
}

// Fetch returns matching rows from offset; limit 0 means all. nil fields
// selects every column.
func (m *memStore) Fetch(_ context.Context, table, filter string, fields []string, offset, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, filter)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if cols, ok := m.columns[table]; ok {
		for _, f := range fields {
			if !slices.Contains(cols, f) {
				return nil, fmt.Errorf("column %s.%s does not exist", table, f)
			}
		}
	}
	var out []map[string]any
	for _, row := range m.rows[table] {
		if !matches(row, filter) {
			continue
		}
		cp := map[string]any{}
		for k, v := range row {
			if fields == nil || slices.Contains(fields, k) {
				cp[k] = v
			}
		}
		out = append(out, cp)
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Update(_ context.Context, table, key, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[id]; err != nil {
		return err
	}
	for _, row := range m.rows[table] {
		if fmt.Sprint(row[key]) == id {
			for k, v := range fields {
				row[k] = v
			}
			m.updates++
			return nil
		}
	}
	return fmt.Errorf("no row %s/%s", table, id)
}

func (m *memStore) get(table, id, field string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows[table] {
		if fmt.Sprint(row["id"]) == id {
			return row[field]
		}
	}
	return nil
}

func matches(row map[string]any, filter string) bool {
	if filter == "" {
		return true
	}
	for _, cond := range strings.Split(filter, "&") {
		col, expr, _ := strings.Cut(cond, "=")
		if col == "order" {
			continue
		}
		op, val, _ := strings.Cut(expr, ".")
		got := fmt.Sprint(row[col])
		switch op {
		case "eq":
			if got != val {
				return false
			}
		case "like":
			if !strings.HasPrefix(got, strings.TrimSuffix(val, "*")) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
