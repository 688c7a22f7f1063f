package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter map[string]int64

func (f fakeCounter) Count(_ context.Context, table, _ string) (int64, error) {
	n, ok := f[table]
	if !ok {
		return 0, errors.New("relation " + table + " does not exist")
	}
	return n, nil
}

var pairs = []Pair{
	{Name: "engagements", Legacy: Side{Table: "Engagement"}, Target: Side{Table: "budget_engagements", Filter: "numero=like.MIG-*"}},
	{Name: "liquidations", Legacy: Side{Table: "Liquidation"}, Target: Side{Table: "budget_liquidations"}},
	{Name: "ordonnancements", Legacy: Side{Table: "Ordonnancement"}, Target: Side{Table: "ordonnancements"}},
	{Name: "fournisseurs", Legacy: Side{Table: "Fournisseur"}, Target: Side{Table: "prestataires"}},
}

func TestCompare(t *testing.T) {
	legacy := fakeCounter{"Engagement": 4821, "Liquidation": 3900, "Ordonnancement": 3500}
	target := fakeCounter{"budget_engagements": 4821, "budget_liquidations": 3890, "ordonnancements": 3502}

	rep := Compare(context.Background(), legacy, target, pairs)
	require.Len(t, rep.Results, 4)

	assert.Equal(t, Result{Name: "engagements", Legacy: 4821, Target: 4821, Status: StatusOK}, rep.Results[0])
	assert.Equal(t, Result{Name: "liquidations", Legacy: 3900, Target: 3890, Diff: -10, Status: StatusMissing}, rep.Results[1])
	assert.Equal(t, Result{Name: "ordonnancements", Legacy: 3500, Target: 3502, Diff: 2, Status: StatusSurplus}, rep.Results[2])
	assert.Equal(t, StatusError, rep.Results[3].Status)
	assert.Contains(t, rep.Results[3].Err, "Fournisseur")

	assert.False(t, rep.OK())
	l, tg := rep.Totals()
	assert.EqualValues(t, 4821+3900+3500, l)
	assert.EqualValues(t, 4821+3890+3502, tg)
	assert.False(t, rep.GeneratedAt.IsZero())
}

func TestCompare_AllMatching(t *testing.T) {
	c := fakeCounter{"a": 1}
	rep := Compare(context.Background(), c, c, []Pair{{Name: "a", Legacy: Side{Table: "a"}, Target: Side{Table: "a"}}})
	assert.True(t, rep.OK())
}

func TestSQLCounter_SQLite(t *testing.T) {
	ctx := context.Background()
	c, err := OpenSQL("sqlite://:memory:")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.db.ExecContext(ctx, `CREATE TABLE Engagement (id INTEGER PRIMARY KEY, exercice INTEGER)`)
	require.NoError(t, err)
	_, err = c.db.ExecContext(ctx, `INSERT INTO Engagement (exercice) VALUES (2024), (2024), (2025)`)
	require.NoError(t, err)

	n, err := c.Count(ctx, "Engagement", "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = c.Count(ctx, "Engagement", "exercice = 2024")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = c.Count(ctx, "Missing", "")
	assert.Error(t, err)
}

func TestCountQuery(t *testing.T) {
	q, err := countQuery("dbo.Engagement", " Exercice = 2024 ")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM dbo.Engagement WHERE Exercice = 2024", q)

	_, err = countQuery("Engagement; DROP TABLE x", "")
	assert.Error(t, err)
	_, err = countQuery("", "")
	assert.Error(t, err)
}
