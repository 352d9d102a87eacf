// Package schema holds the relational model inferred from a workbook: raw
// cells as extracted, per-column inferences, and the table specs that DDL
// synthesis and row transformation both consume.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"sheetetl/internal/ident"
	"sheetetl/internal/normalize"
)

// CellKind tags a RawCell.
type CellKind uint8

const (
	CellLiteral CellKind = iota
	CellFormula
)

// RawCell is one extracted cell: either a literal value or a formula.
//
// Formula cells may carry the value the workbook last computed in Value; it is
// used when loading rows but never when judging a column's type.
type RawCell struct {
	Kind    CellKind
	Value   any
	Formula string
}

// Literal returns a literal cell holding v.
func Literal(v any) RawCell { return RawCell{Kind: CellLiteral, Value: v} }

// Formula returns a formula cell with its cached result (nil if unknown).
func Formula(text string, cached any) RawCell {
	return RawCell{Kind: CellFormula, Formula: text, Value: cached}
}

func (c RawCell) IsFormula() bool { return c.Kind == CellFormula }

// IsBlank reports whether c is an empty, whitespace-only or absent literal.
// The zero RawCell is blank.
func (c RawCell) IsBlank() bool {
	return c.Kind == CellLiteral && normalize.Blank(c.Value)
}

// SemanticType is the inferred meaning of a column. Consumers switch on it
// exhaustively.
type SemanticType uint8

const (
	Identifier SemanticType = iota + 1
	Date
	Numeric
	Text
)

func (t SemanticType) String() string {
	switch t {
	case Identifier:
		return "identifier"
	case Date:
		return "date"
	case Numeric:
		return "numeric"
	case Text:
		return "text"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// SQLType is a dialect-neutral SQL type name with optional parameters.
type SQLType struct {
	Name   string
	Params []int
}

var (
	IntegerType = SQLType{Name: "INTEGER"}
	DateType    = SQLType{Name: "DATE"}
)

// NumericType returns NUMERIC(precision, scale).
func NumericType(precision, scale int) SQLType {
	return SQLType{Name: "NUMERIC", Params: []int{precision, scale}}
}

// VarcharType returns VARCHAR(n).
func VarcharType(n int) SQLType { return SQLType{Name: "VARCHAR", Params: []int{n}} }

func (t SQLType) String() string {
	if len(t.Params) == 0 {
		return t.Name
	}
	ps := make([]string, len(t.Params))
	for i, p := range t.Params {
		ps[i] = strconv.Itoa(p)
	}
	return t.Name + "(" + strings.Join(ps, ",") + ")"
}

// ParseSQLType parses "NAME" or "NAME(p[,s])", e.g. a configured monetary type.
func ParseSQLType(s string) (SQLType, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == "" {
			return SQLType{}, fmt.Errorf("schema: empty sql type")
		}
		return SQLType{Name: strings.ToUpper(s)}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return SQLType{}, fmt.Errorf("schema: malformed sql type %q", s)
	}
	out := SQLType{Name: strings.ToUpper(strings.TrimSpace(s[:open]))}
	for _, p := range strings.Split(s[open+1:len(s)-1], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return SQLType{}, fmt.Errorf("schema: malformed sql type %q: %w", s, err)
		}
		out.Params = append(out.Params, n)
	}
	return out, nil
}

// ColumnInference is the inferred shape of one column.
type ColumnInference struct {
	Name         string // sanitized identifier
	Source       string // header text as found in the workbook
	Position     int    // 0-based index of the source column in each row
	SemanticType SemanticType
	SQLType      SQLType
	Nullable     bool
	PrimaryKey   bool

	IsDerived      bool
	FormulaExample string
}

// TableSpec is one qualifying sheet turned into a table definition. Columns
// keep header order, which is also the load column order.
type TableSpec struct {
	Schema     string
	Table      string
	Columns    []ColumnInference
	PrimaryKey string
	Dimension  bool
	Source     string // sheet name
}

// QualifiedName returns "schema.table".
func (t TableSpec) QualifiedName() string { return t.Schema + "." + t.Table }

// ColumnNames returns column names in load order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// DimensionSpec names the shared date dimension.
type DimensionSpec struct {
	Schema     string
	Table      string
	KeyColumn  string
	DateColumn string
}

// DefaultDimension is dates.dates(date_id, date).
func DefaultDimension() DimensionSpec {
	return DimensionSpec{Schema: "dates", Table: "dates", KeyColumn: "date_id", DateColumn: "date"}
}

func (d DimensionSpec) QualifiedName() string { return d.Schema + "." + d.Table }

// Matches reports whether schema.table names the dimension.
func (d DimensionSpec) Matches(schema, table string) bool {
	return strings.EqualFold(d.Schema, schema) && strings.EqualFold(d.Table, table)
}

// ForeignKeyName is the deterministic constraint name for a date column:
// <table>_<column>_dates_fk, shortened with a hash suffix when it would exceed
// limit bytes (0 for no limit).
func ForeignKeyName(table, column string, limit int) string {
	return ident.Shorten(table+"_"+column+"_dates_fk", limit)
}
