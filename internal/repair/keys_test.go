package repair

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/sygfp-datafix/internal/postgrest"
)

// uuidTable answers PostgREST requests for a table keyed on "uuid" with no
// "id" column. Any filter or order on "id" is rejected.
type uuidTable struct {
	mu      sync.Mutex
	row     map[string]any
	queries []string
	patches []string
}

func (u *uuidTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	q := r.URL.Query()
	if q.Has("id") || q.Get("order") == "id.asc" {
		http.Error(w, `{"message":"column budget_liquidations.id does not exist"}`, http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		u.queries = append(u.queries, r.URL.RawQuery)
		rows := []map[string]any{}
		if want := q.Get("uuid"); want == "" || want == "eq."+u.row["uuid"].(string) {
			if q.Get("offset") == "" || q.Get("offset") == "0" {
				rows = append(rows, u.row)
			}
		}
		_ = json.NewEncoder(w).Encode(rows)
	case http.MethodPatch:
		u.patches = append(u.patches, q.Get("uuid"))
		var fields map[string]any
		_ = json.NewDecoder(r.Body).Decode(&fields)
		if q.Get("uuid") == "eq."+u.row["uuid"].(string) {
			for k, v := range fields {
				u.row[k] = v
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestDriver_CustomKeyColumnOverREST(t *testing.T) {
	ctx := context.Background()
	tbl := &uuidTable{row: map[string]any{"uuid": "abc-1", "reference": "LIQ-2024-7", "observation": "PLUè"}}
	srv := httptest.NewServer(tbl)
	t.Cleanup(srv.Close)

	client := postgrest.New(srv.URL, "service-key",
		postgrest.WithHTTPClient(srv.Client()),
		postgrest.WithPolicy(postgrest.Policy{MaxAttempts: 1}))
	j := openJournal(t)
	d := &Driver{Store: client, Journal: j}

	rep, err := d.Run(ctx, []Table{{
		Name: "budget_liquidations", Fields: []string{"observation"},
		LabelField: "reference", IDField: "uuid",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Tables[0].Fixed)
	assert.Zero(t, rep.Tables[0].Errors)
	assert.Equal(t, []string{"eq.abc-1"}, tbl.patches)
	assert.Equal(t, "PLUS", tbl.row["observation"])
	require.NotEmpty(t, tbl.queries)
	assert.Contains(t, tbl.queries[0], "order=uuid.asc")

	entries, err := j.Entries(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "uuid", entries[0].KeyField)

	st, err := Revert(ctx, client, j, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, RevertStats{Reverted: 1}, st)
	assert.Equal(t, "PLUè", tbl.row["observation"])
}

func TestTable_FetchFilter(t *testing.T) {
	assert.Equal(t, "order=id.asc", Table{}.fetchFilter())
	assert.Equal(t, "legacy_import=eq.true&order=uuid.asc", Table{Filter: "legacy_import=eq.true", IDField: "uuid"}.fetchFilter())
	assert.Equal(t, "order=numero.desc", Table{Filter: "order=numero.desc"}.fetchFilter())
}

var liquidations = Table{
	Name:           "budget_liquidations",
	Filter:         "legacy_import=eq.true",
	Fields:         []string{"observation", "motif_differe", "reference_facture", "rejection_reason"},
	DiscoverFields: true,
}

func TestProcessTable_DiscoversExistingColumns(t *testing.T) {
	store := newMemStore("budget_liquidations",
		map[string]any{"id": "1", "numero": "LIQ-1", "legacy_import": "true", "observation": "PIECEè JOINTEè", "motif_differe": nil, "reference_facture": 12},
		map[string]any{"id": "2", "numero": "LIQ-2", "legacy_import": "true", "observation": "RAS", "motif_differe": "ATTENTE DE FONDè", "reference_facture": 13},
	)
	store.columns = map[string][]string{
		"budget_liquidations": {"id", "numero", "legacy_import", "observation", "motif_differe", "reference_facture"},
	}
	d := &Driver{Store: store}

	st, err := d.ProcessTable(context.Background(), 0, liquidations)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Scanned)
	assert.Equal(t, 2, st.Fixed)
	assert.Equal(t, "PIECES JOINTES", store.get("budget_liquidations", "1", "observation"))
	assert.Equal(t, "ATTENTE DE FONDS", store.get("budget_liquidations", "2", "motif_differe"))

	// Without discovery the missing column fails the whole table.
	plain := liquidations
	plain.DiscoverFields = false
	_, err = d.ProcessTable(context.Background(), 0, plain)
	assert.ErrorContains(t, err, "rejection_reason")
}

func TestProcessTable_DiscoverSkipsEmptyTable(t *testing.T) {
	store := newMemStore("budget_liquidations",
		map[string]any{"id": "1", "numero": "LIQ-1", "legacy_import": "false", "observation": "PLUè"},
	)
	d := &Driver{Store: store}

	st, err := d.ProcessTable(context.Background(), 0, liquidations)
	require.NoError(t, err)
	assert.Zero(t, st.Scanned)
	assert.Zero(t, store.updates)
	assert.Equal(t, []string{"legacy_import=eq.true&order=id.asc"}, store.fetches)
}
