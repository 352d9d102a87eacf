package transform

import (
	"testing"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetetl/internal/schema"
)

var (
	jan = civil.Date{Year: 2023, Month: 1, Day: 1}
	feb = civil.Date{Year: 2023, Month: 2, Day: 1}
)

func ledgerSpec() schema.TableSpec {
	return schema.TableSpec{
		Schema: "ledger", Table: "transactions",
		Columns: []schema.ColumnInference{
			{Name: "date", Position: 0, SemanticType: schema.Date, SQLType: schema.IntegerType},
			{Name: "amount", Position: 1, SemanticType: schema.Numeric, SQLType: schema.NumericType(18, 2), Nullable: true},
			{Name: "note", Position: 2, SemanticType: schema.Text, SQLType: schema.VarcharType(50), Nullable: true},
		},
	}
}

func lit(v any) schema.RawCell { return schema.Literal(v) }

func TestTransform_TypesEachColumn(t *testing.T) {
	t.Parallel()
	rows := [][]schema.RawCell{
		{lit("01/2023"), lit("100,00 €"), lit("rent")},
		{lit("02/2023"), lit("200.50"), lit("")},
	}

	tuples, dates := Transform(ledgerSpec(), rows, Options{})
	require.Len(t, tuples, 2)

	assert.Equal(t, jan, tuples[0][0])
	assert.True(t, decimal.RequireFromString("100").Equal(tuples[0][1].(decimal.Decimal)))
	assert.Equal(t, "rent", tuples[0][2])

	assert.Equal(t, feb, tuples[1][0])
	assert.True(t, decimal.RequireFromString("200.50").Equal(tuples[1][1].(decimal.Decimal)))
	assert.Nil(t, tuples[1][2])

	assert.Equal(t, []civil.Date{jan, feb}, dates.Sorted())
}

func TestTransform_EdgeCells(t *testing.T) {
	t.Parallel()
	spec := schema.TableSpec{
		Schema: "s", Table: "t", PrimaryKey: "id",
		Columns: []schema.ColumnInference{
			{Name: "id", Position: 0, SemanticType: schema.Identifier, PrimaryKey: true},
			{Name: "total", Position: 1, SemanticType: schema.Numeric, IsDerived: true},
			{Name: "memo", Position: 2, SemanticType: schema.Text},
		},
	}
	rows := [][]schema.RawCell{
		{lit("7"), schema.Formula("=A1*2", 14.0)},   // short row: memo absent
		{lit("x"), lit("n/a"), lit("  padded  ")},   // unparseable values become nil
		{lit(""), schema.Formula("=A3*2", ""), {}}, // blank row: dropped
	}

	tuples, dates := Transform(spec, rows, Options{})
	require.Len(t, tuples, 2)
	assert.Empty(t, dates)

	assert.Equal(t, int64(7), tuples[0][0])
	assert.True(t, decimal.NewFromInt(14).Equal(tuples[0][1].(decimal.Decimal)))
	assert.Nil(t, tuples[0][2])

	assert.Nil(t, tuples[1][0])
	assert.Nil(t, tuples[1][1])
	assert.Equal(t, "padded", tuples[1][2])
}

func TestFinalize_SwapsDatesForKeys(t *testing.T) {
	t.Parallel()
	tuples := []Tuple{{jan, "a"}, {nil, "b"}}
	spec := schema.TableSpec{
		Schema: "s", Table: "t",
		Columns: []schema.ColumnInference{
			{Name: "date", SemanticType: schema.Date},
			{Name: "memo", SemanticType: schema.Text},
		},
	}

	out, err := Finalize(spec, tuples, map[civil.Date]int64{jan: 42})
	require.NoError(t, err)
	assert.Equal(t, []Tuple{{int64(42), "a"}, {nil, "b"}}, out)
	assert.Equal(t, jan, tuples[0][0], "input tuples are not modified")
}

func TestFinalize_MissingKey(t *testing.T) {
	t.Parallel()
	spec := ledgerSpec()
	_, err := Finalize(spec, []Tuple{{feb, nil, nil}}, map[civil.Date]int64{jan: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.transactions.date")
	assert.Contains(t, err.Error(), "2023-02-01")
}

func TestFinalize_DimensionKeepsDates(t *testing.T) {
	t.Parallel()
	spec := schema.SyntheticDimension(schema.DefaultDimension())
	tuples := []Tuple{{jan}}
	out, err := Finalize(spec, tuples, nil)
	require.NoError(t, err)
	assert.Equal(t, jan, out[0][0])
}

func TestRows(t *testing.T) {
	t.Parallel()
	got := Rows([]Tuple{{int64(1), "a"}})
	assert.Equal(t, [][]any{{int64(1), "a"}}, got)
}
