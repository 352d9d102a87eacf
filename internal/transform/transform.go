// Package transform turns extracted rows into typed tuples in a table's
// column order and swaps dates for dimension keys.
package transform

import (
	"fmt"
	"slices"

	"github.com/golang-sql/civil"

	"sheetetl/internal/normalize"
	"sheetetl/internal/schema"
)

// Tuple is one typed row in TableSpec column order. Slots hold int64,
// civil.Date, decimal.Decimal, string or nil.
type Tuple []any

// DateSet collects the distinct dates seen by Transform.
type DateSet map[civil.Date]struct{}

func (s DateSet) Add(d civil.Date) { s[d] = struct{}{} }

// Sorted returns the dates in ascending order.
func (s DateSet) Sorted() []civil.Date {
	out := make([]civil.Date, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	slices.SortFunc(out, normalize.CompareDates)
	return out
}

type Options struct {
	Dates normalize.DateOptions
}

// Transform converts rows of spec's sheet. Values that do not normalize
// become nil; rows with no non-blank cell are dropped.
func Transform(spec schema.TableSpec, rows [][]schema.RawCell, opts Options) ([]Tuple, DateSet) {
	out := make([]Tuple, 0, len(rows))
	dates := make(DateSet)

	for _, row := range rows {
		if blankRow(row) {
			continue
		}
		t := make(Tuple, len(spec.Columns))
		for i, col := range spec.Columns {
			var cell schema.RawCell
			if col.Position >= 0 && col.Position < len(row) {
				cell = row[col.Position]
			}
			t[i] = convert(col, cell.Value, opts, dates)
		}
		out = append(out, t)
	}
	return out, dates
}

func convert(col schema.ColumnInference, v any, opts Options, dates DateSet) any {
	switch col.SemanticType {
	case schema.Identifier:
		if n, ok := normalize.Integer(v); ok {
			return n
		}
	case schema.Date:
		if d, ok := opts.Dates.Parse(v); ok {
			dates.Add(d)
			return d
		}
	case schema.Numeric:
		if d, ok := normalize.Decimal(v); ok {
			return d
		}
	case schema.Text:
		if s, ok := normalize.Text(v); ok {
			return s
		}
	}
	return nil
}

// blankRow treats a formula whose cached value is blank as blank.
func blankRow(row []schema.RawCell) bool {
	for _, c := range row {
		if !normalize.Blank(c.Value) {
			return false
		}
	}
	return true
}

// Finalize replaces every civil.Date in a Date column with its dimension key.
// The dimension table keeps its dates; its key column is generated.
//
// A date without a key is an error naming the table, column and date.
func Finalize(spec schema.TableSpec, tuples []Tuple, keys map[civil.Date]int64) ([]Tuple, error) {
	if spec.Dimension {
		return tuples, nil
	}
	var dateCols []int
	for i, c := range spec.Columns {
		if c.SemanticType == schema.Date {
			dateCols = append(dateCols, i)
		}
	}
	if len(dateCols) == 0 {
		return tuples, nil
	}

	out := make([]Tuple, len(tuples))
	for r, t := range tuples {
		nt := slices.Clone(t)
		for _, i := range dateCols {
			d, ok := nt[i].(civil.Date)
			if !ok {
				continue
			}
			k, ok := keys[d]
			if !ok {
				return nil, fmt.Errorf("transform: %s.%s row %d: no dimension key for %s",
					spec.QualifiedName(), spec.Columns[i].Name, r+1, d)
			}
			nt[i] = k
		}
		out[r] = nt
	}
	return out, nil
}

// Rows returns tuples as the [][]any a storage backend accepts.
func Rows(tuples []Tuple) [][]any {
	out := make([][]any, len(tuples))
	for i, t := range tuples {
		out[i] = t
	}
	return out
}
