package sqlite

import (
	"context"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetetl/internal/ddl"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
)

func openMemory(t *testing.T) *Repo {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:", BatchSize: 2})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo.(*Repo)
}

func ledgerSpecs() []schema.TableSpec {
	return []schema.TableSpec{{
		Schema: "finance", Table: "ledger", PrimaryKey: "id",
		Columns: []schema.ColumnInference{
			{Name: "id", SemanticType: schema.Identifier, SQLType: schema.IntegerType, PrimaryKey: true},
			{Name: "date", SemanticType: schema.Date, SQLType: schema.IntegerType},
			{Name: "amount", SemanticType: schema.Numeric, SQLType: schema.NumericType(18, 2), Nullable: true},
			{Name: "memo", SemanticType: schema.Text, SQLType: schema.VarcharType(50), Nullable: true},
		},
	}}
}

func build(t *testing.T, r *Repo) {
	t.Helper()
	stmts := ddl.Synthesize(ledgerSpecs(), schema.DefaultDimension(), r.Dialect())
	for _, p := range []ddl.Phase{ddl.PhaseSchema, ddl.PhaseTable} {
		require.NoError(t, r.ExecStatements(context.Background(), ddl.ByPhase(stmts, p)))
	}
}

func tableExists(t *testing.T, r *Repo, name string) bool {
	t.Helper()
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestNew_RequiresDSN(t *testing.T) {
	_, err := New(context.Background(), storage.Config{Kind: "sqlite"})
	require.Error(t, err)
}

func TestExecStatements_IdempotentBuild(t *testing.T) {
	r := openMemory(t)
	build(t, r)
	build(t, r)

	assert.True(t, tableExists(t, r, "dates__dates"))
	assert.True(t, tableExists(t, r, "finance__ledger"))
}

func TestExecStatements_FailureRollsBackBatch(t *testing.T) {
	r := openMemory(t)
	stmts := []ddl.Statement{
		{Phase: ddl.PhaseTable, Kind: ddl.CreateTable, Object: "a.a", SQL: `CREATE TABLE "a__a" ("x" INTEGER)`},
		{Phase: ddl.PhaseTable, Kind: ddl.CreateTable, Object: "b.b", SQL: `CREATE TABLE "b__b" (`},
	}

	err := r.ExecStatements(context.Background(), stmts)
	var se *storage.StatementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b.b", se.Statement.Object)
	assert.False(t, tableExists(t, r, "a__a"))
}

func TestDimensionKeys_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r := openMemory(t)
	build(t, r)
	dim := schema.DefaultDimension()

	d1 := civil.Date{Year: 2023, Month: 1, Day: 5}
	d2 := civil.Date{Year: 2023, Month: 2, Day: 1}
	require.NoError(t, r.EnsureDimensionKeys(ctx, dim, []civil.Date{d2, d1, d1}))
	require.NoError(t, r.EnsureDimensionKeys(ctx, dim, []civil.Date{d1}))

	keys, err := r.SelectKeysByDates(ctx, dim, []civil.Date{d1, d2})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[d1], keys[d2])

	all, err := r.SelectAllDateKeys(ctx, dim)
	require.NoError(t, err)
	assert.Equal(t, keys, all)
}

func TestInsertRows_BatchesConflictsAndForeignKeys(t *testing.T) {
	ctx := context.Background()
	r := openMemory(t)
	build(t, r)
	dim := schema.DefaultDimension()

	d := civil.Date{Year: 2023, Month: 1, Day: 5}
	require.NoError(t, r.EnsureDimensionKeys(ctx, dim, []civil.Date{d}))
	keys, err := r.SelectKeysByDates(ctx, dim, []civil.Date{d})
	require.NoError(t, err)

	cols := []string{"id", "date", "amount", "memo"}
	rows := [][]any{
		{int64(1), keys[d], decimal.RequireFromString("12.50"), "first"},
		{int64(2), keys[d], nil, nil},
		{int64(3), keys[d], decimal.RequireFromString("-3"), "third"},
	}
	// BatchSize 2 splits this into two statements inside one transaction.
	n, err := r.InsertRows(ctx, "finance.ledger", cols, rows, []string{"id"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = r.InsertRows(ctx, "finance.ledger", cols, rows[:1], []string{"id"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	// A date key missing from the dimension violates the foreign key and
	// the whole call rolls back.
	_, err = r.InsertRows(ctx, "finance.ledger", cols, [][]any{
		{int64(4), keys[d], nil, nil},
		{int64(5), int64(9999), nil, nil},
	}, []string{"id"})
	require.Error(t, err)

	var count int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM "finance__ledger"`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestBuildInsertSQL(t *testing.T) {
	q, args := buildInsertSQL(ddl.SQLite{}, ddl.SQLite{}.TableName("s", "t"), []string{"a", "B"},
		[][]any{{civil.Date{Year: 2023, Month: 1, Day: 2}, 1}}, []string{"a"})
	assert.Equal(t, `INSERT INTO s__t (a, "B") VALUES (?, ?) ON CONFLICT (a) DO NOTHING`, q)
	assert.Equal(t, []any{"2023-01-02", 1}, args)
}

func TestInsertRows_DecimalsKeepEveryDigit(t *testing.T) {
	ctx := context.Background()
	r := openMemory(t)
	build(t, r)
	dim := schema.DefaultDimension()

	d := civil.Date{Year: 2023, Month: 1, Day: 5}
	require.NoError(t, r.EnsureDimensionKeys(ctx, dim, []civil.Date{d}))
	keys, err := r.SelectKeysByDates(ctx, dim, []civil.Date{d})
	require.NoError(t, err)

	amount := decimal.RequireFromString("1234567890123456.78")
	_, err = r.InsertRows(ctx, "finance.ledger", []string{"id", "date", "amount", "memo"},
		[][]any{{int64(1), keys[d], amount, nil}}, []string{"id"})
	require.NoError(t, err)

	var got string
	require.NoError(t, r.db.QueryRow(`SELECT amount FROM finance__ledger WHERE id = 1`).Scan(&got))
	assert.Equal(t, "1234567890123456.78", got)
}
