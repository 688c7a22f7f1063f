package repair

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gonkalabs/sygfp-datafix/internal/journal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var engagements = Table{
	Name:   "budget_engagements",
	Filter: "numero=like.MIG-*",
	Fields: []string{"objet", "fournisseur"},
}

func seedEngagements() *memStore {
	return newMemStore("budget_engagements",
		map[string]any{"id": "1", "numero": "MIG-1", "objet": "PERèONNEL DE L'ARTI", "fournisseur": "KADIA ENTREPRIèEè"},
		map[string]any{"id": "2", "numero": "MIG-2", "objet": "Règlement de la facture", "fournisseur": nil},
		map[string]any{"id": "3", "numero": "MIG-3", "objet": "5ème anniversaire", "fournisseur": "èARL X"},
		map[string]any{"id": "4", "numero": "OLD-4", "objet": "èOCIAUX"},
	)
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestProcessTable_RepairsChangedFieldsOnly(t *testing.T) {
	store := seedEngagements()
	d := &Driver{Store: store, Workers: 2}

	st, err := d.ProcessTable(context.Background(), 0, engagements)
	require.NoError(t, err)

	assert.Equal(t, 3, st.Scanned)
	assert.Equal(t, 2, st.Fixed)
	assert.Equal(t, 3, st.FieldsFixed)
	assert.Zero(t, st.Errors)
	assert.Equal(t, 2, store.updates)

	assert.Equal(t, "PERSONNEL DE L'ARTI", store.get("budget_engagements", "1", "objet"))
	assert.Equal(t, "KADIA ENTREPRISES", store.get("budget_engagements", "1", "fournisseur"))
	assert.Equal(t, "Règlement de la facture", store.get("budget_engagements", "2", "objet"))
	assert.Nil(t, store.get("budget_engagements", "2", "fournisseur"))
	assert.Equal(t, "5ème anniversaire", store.get("budget_engagements", "3", "objet"))
	assert.Equal(t, "SARL X", store.get("budget_engagements", "3", "fournisseur"))
	// Outside the filter.
	assert.Equal(t, "èOCIAUX", store.get("budget_engagements", "4", "objet"))

	require.Len(t, st.Examples, 2)
	assert.Equal(t, "MIG-1", st.Examples[0].Label)
	assert.Equal(t, []Change{
		{Field: "objet", Before: "PERèONNEL DE L'ARTI", After: "PERSONNEL DE L'ARTI"},
		{Field: "fournisseur", Before: "KADIA ENTREPRIèEè", After: "KADIA ENTREPRISES"},
	}, st.Examples[0].Changes)
	assert.Equal(t, "MIG-3", st.Examples[1].Label)
}

func TestProcessTable_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := seedEngagements()
	j := openJournal(t)
	d := &Driver{Store: store, Journal: j, DryRun: true}

	rep, err := d.Run(ctx, []Table{engagements})
	require.NoError(t, err)
	require.Len(t, rep.Tables, 1)

	st := rep.Tables[0]
	assert.True(t, st.DryRun)
	assert.Equal(t, 2, st.Fixed)
	assert.Zero(t, store.updates)
	assert.Equal(t, "PERèONNEL DE L'ARTI", store.get("budget_engagements", "1", "objet"))

	entries, err := j.Entries(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.False(t, e.Applied)
	}
	run, err := j.Run(ctx, rep.RunID)
	require.NoError(t, err)
	assert.True(t, run.DryRun)
	assert.Equal(t, "budget_engagements", run.Label)
}

func TestProcessTable_FailedUpdateCountsAsError(t *testing.T) {
	ctx := context.Background()
	store := seedEngagements()
	store.fail["3"] = errors.New("409 conflict")
	j := openJournal(t)
	d := &Driver{Store: store, Journal: j, Workers: 4}

	rep, err := d.Run(ctx, []Table{engagements})
	require.NoError(t, err)
	st := rep.Tables[0]
	assert.Equal(t, 1, st.Fixed)
	assert.Equal(t, 1, st.Errors)
	assert.Equal(t, 3, st.FieldsFixed)

	entries, err := j.Entries(ctx, rep.RunID)
	require.NoError(t, err)
	applied := map[string]bool{}
	for _, e := range entries {
		applied[e.RecordID] = e.Applied
	}
	assert.Equal(t, map[string]bool{"1": true, "3": false}, applied)
}

func TestProcessTable_RecordWithoutID(t *testing.T) {
	store := newMemStore("ordonnancements",
		map[string]any{"numero": "ORD-1", "objet": "èOCIAUX", "legacy_import": "true"},
	)
	d := &Driver{Store: store}
	st, err := d.ProcessTable(context.Background(), 0, Table{
		Name: "ordonnancements", Filter: "legacy_import=eq.true", Fields: []string{"objet"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Errors)
	assert.Zero(t, st.Fixed)
	assert.Zero(t, store.updates)
}

func TestProcessTable_ManyRecordsConcurrently(t *testing.T) {
	var rows []map[string]any
	for i := 0; i < 250; i++ {
		rows = append(rows, map[string]any{"id": fmt.Sprint(i), "numero": fmt.Sprintf("MIG-%d", i), "objet": "FRAIè DE TRANèPORT"})
	}
	store := newMemStore("budget_engagements", rows...)
	d := &Driver{Store: store, Workers: 8}

	st, err := d.ProcessTable(context.Background(), 0, engagements)
	require.NoError(t, err)
	assert.Equal(t, 250, st.Fixed)
	assert.Len(t, st.Examples, maxExamples)
	assert.Equal(t, 250, store.updates)
	assert.Equal(t, "FRAIS DE TRANSPORT", store.get("budget_engagements", "249", "objet"))
}

func TestRun_ContinuesAfterTableFailure(t *testing.T) {
	store := seedEngagements()
	store.rows["broken"] = nil
	failing := &failingFetch{memStore: store, table: "broken"}
	d := &Driver{Store: failing}

	rep, err := d.Run(context.Background(), []Table{{Name: "broken", Fields: []string{"objet"}}, engagements})
	require.Error(t, err)
	require.Len(t, rep.Tables, 2)
	assert.Equal(t, 2, rep.Tables[1].Fixed)
}

type failingFetch struct {
	*memStore
	table string
}

func (f *failingFetch) FetchAll(ctx context.Context, table, filter string, fields []string) ([]map[string]any, error) {
	if table == f.table {
		return nil, errors.New("relation does not exist")
	}
	return f.memStore.FetchAll(ctx, table, filter, fields)
}

func TestTable_SelectFields(t *testing.T) {
	tbl := Table{Fields: []string{"objet", "id", "beneficiaire"}}
	assert.Equal(t, []string{"id", "numero", "objet", "beneficiaire"}, tbl.selectFields())

	tbl = Table{Fields: []string{"observation"}, LabelField: "reference", IDField: "uuid"}
	assert.Equal(t, []string{"uuid", "reference", "observation"}, tbl.selectFields())
}

func TestRepairRecord_SkipsNonText(t *testing.T) {
	rec := map[string]any{"a": 12, "b": nil, "c": "PLUè", "d": "plain"}
	assert.Equal(t, []Change{{Field: "c", Before: "PLUè", After: "PLUS"}}, repairRecord(rec, []string{"a", "b", "c", "d", "missing"}))
}
