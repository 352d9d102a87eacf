package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetetl/internal/ddl"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
)

func createTables(t *testing.T, r *Repo, names ...string) {
	t.Helper()
	var stmts []ddl.Statement
	for _, n := range names {
		stmts = append(stmts, ddl.Statement{Phase: ddl.PhaseTable, Kind: ddl.CreateTable, Object: n, SQL: "CREATE TABLE " + n})
	}
	require.NoError(t, r.ExecStatements(context.Background(), stmts))
}

func TestRegisteredAsMemory(t *testing.T) {
	repo, err := storage.New(context.Background(), storage.Config{Kind: "memory"})
	require.NoError(t, err)
	defer repo.Close()
	assert.IsType(t, &Repo{}, repo)
	assert.Equal(t, "postgres", repo.Dialect().Name())
}

func TestExecStatements_FailureAppliesNothing(t *testing.T) {
	r := New()
	r.FailStatement = func(s ddl.Statement) error {
		if s.Object == "b.b" {
			return errors.New("boom")
		}
		return nil
	}
	stmts := []ddl.Statement{
		{Phase: ddl.PhaseTable, Kind: ddl.CreateTable, Object: "a.a"},
		{Phase: ddl.PhaseTable, Kind: ddl.CreateTable, Object: "b.b"},
	}

	err := r.ExecStatements(context.Background(), stmts)
	var se *storage.StatementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b.b", se.Statement.Object)
	assert.Empty(t, r.Statements())
	assert.Nil(t, r.Table("a.a"))
}

func TestDimensionKeys_SequentialAndStable(t *testing.T) {
	ctx := context.Background()
	r := New()
	dim := schema.DefaultDimension()

	d1 := civil.Date{Year: 2023, Month: 3, Day: 1}
	d2 := civil.Date{Year: 2023, Month: 1, Day: 1}

	require.Error(t, r.EnsureDimensionKeys(ctx, dim, []civil.Date{d1}), "dimension table must exist first")

	createTables(t, r, dim.QualifiedName())
	require.NoError(t, r.EnsureDimensionKeys(ctx, dim, []civil.Date{d1, d2, d1}))
	require.NoError(t, r.EnsureDimensionKeys(ctx, dim, []civil.Date{d2}))

	keys, err := r.SelectKeysByDates(ctx, dim, []civil.Date{d1, d2, {Year: 1999, Month: 1, Day: 1}})
	require.NoError(t, err)
	// UniqueDates sorts, so the earlier date gets the first key.
	assert.Equal(t, map[civil.Date]int64{d2: 1, d1: 2}, keys)

	all, err := r.SelectAllDateKeys(ctx, dim)
	require.NoError(t, err)
	assert.Equal(t, keys, all)
	assert.Equal(t, 2, r.DimensionSize())
}

func TestInsertRows_ConflictSkips(t *testing.T) {
	ctx := context.Background()
	r := New()
	createTables(t, r, "finance.ledger")

	rows := [][]any{{int64(1), "a"}, {int64(2), "b"}}
	n, err := r.InsertRows(ctx, "finance.ledger", []string{"id", "memo"}, rows, []string{"id"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = r.InsertRows(ctx, "finance.ledger", []string{"id", "memo"}, [][]any{{int64(2), "dup"}, {int64(3), "c"}}, []string{"id"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	tbl := r.Table("finance.ledger")
	require.NotNil(t, tbl)
	assert.Equal(t, []string{"id", "memo"}, tbl.Columns)
	assert.Len(t, tbl.Rows, 3)
	assert.Equal(t, 2, r.InsertCalls())
}

func TestInsertRows_UnknownTableAndInjectedFailure(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.InsertRows(ctx, "nope.nope", []string{"a"}, [][]any{{1}}, nil)
	require.Error(t, err)

	createTables(t, r, "s.t")
	r.FailInsert = func(table string) error { return errors.New("disk full") }
	_, err = r.InsertRows(ctx, "s.t", []string{"a"}, [][]any{{1}}, nil)
	require.EqualError(t, err, "disk full")
}

func TestInsertRows_DimensionDatesGetKeys(t *testing.T) {
	ctx := context.Background()
	r := New()
	dim := schema.DefaultDimension()
	createTables(t, r, dim.QualifiedName())

	d := civil.Date{Year: 2024, Month: 2, Day: 29}
	_, err := r.InsertRows(ctx, dim.QualifiedName(), []string{"date", "label"}, [][]any{{d, "leap"}}, []string{"date"})
	require.NoError(t, err)

	keys, err := r.SelectKeysByDates(ctx, dim, []civil.Date{d})
	require.NoError(t, err)
	assert.Contains(t, keys, d)
}
