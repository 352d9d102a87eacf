package schema

import (
	"strings"
	"unicode/utf8"

	"sheetetl/internal/normalize"
)

// Role distinguishes the date dimension from every other table; it only
// changes how Date columns are typed.
type Role uint8

const (
	RoleTable Role = iota
	RoleDimension
)

// Inferencer decides column types from names and sampled values. The zero
// value is usable: unset thresholds and types fall back to DefaultInferencer,
// and a zero SampleSize samples every row.
type Inferencer struct {
	// NumericThreshold is the share of non-blank literal samples that must
	// parse as decimals for a column to be Numeric.
	NumericThreshold float64
	MinVarchar       int
	MaxVarchar       int
	// SampleSize caps how many data rows are inspected per column; 0 or
	// negative inspects every row.
	SampleSize  int
	NumericType SQLType
	// MaxIdentifier is the backend's identifier limit in bytes; longer table
	// and column names are truncated before collisions are checked. 0 or
	// negative means no limit.
	MaxIdentifier int
}

// DefaultInferencer returns the stock heuristics: 70% numeric threshold,
// VARCHAR between 50 and 1000, 200 sampled rows, NUMERIC(18,2).
func DefaultInferencer() Inferencer {
	return Inferencer{
		NumericThreshold: 0.7,
		MinVarchar:       50,
		MaxVarchar:       1000,
		SampleSize:       200,
		NumericType:      NumericType(18, 2),
	}
}

func (in Inferencer) withDefaults() Inferencer {
	def := DefaultInferencer()
	if in.NumericThreshold <= 0 || in.NumericThreshold > 1 {
		in.NumericThreshold = def.NumericThreshold
	}
	if in.MinVarchar <= 0 {
		in.MinVarchar = def.MinVarchar
	}
	if in.MaxVarchar < in.MinVarchar {
		in.MaxVarchar = max(def.MaxVarchar, in.MinVarchar)
	}
	if in.NumericType.Name == "" {
		in.NumericType = def.NumericType
	}
	return in
}

// InferColumn classifies one column.
//
// Name heuristics win over values: a column named "id" is an Identifier even
// if its cells look like dates. Formula cells mark the column as derived but
// are ignored when judging the type.
func (in Inferencer) InferColumn(name, source string, samples []RawCell, role Role) ColumnInference {
	in = in.withDefaults()

	col := ColumnInference{Name: name, Source: source}

	var (
		anyBlank bool
		total    int
		numeric  int
		maxLen   int
	)
	for _, c := range samples {
		if c.IsFormula() {
			if !col.IsDerived {
				col.IsDerived = true
				col.FormulaExample = c.Formula
			}
			continue
		}
		if c.IsBlank() {
			anyBlank = true
			continue
		}
		total++
		if _, ok := normalize.Decimal(c.Value); ok {
			numeric++
		}
		if s, ok := normalize.Text(c.Value); ok {
			maxLen = max(maxLen, utf8.RuneCountInString(s))
		}
	}

	lower := strings.ToLower(name)
	switch {
	case lower == "id" || lower == "identifier" || strings.HasSuffix(lower, "_id"):
		col.SemanticType = Identifier
		col.SQLType = IntegerType
		col.PrimaryKey = lower == "id"
		col.Nullable = anyBlank && !col.PrimaryKey

	case strings.Contains(lower, "date"):
		col.SemanticType = Date
		col.SQLType = IntegerType
		if role == RoleDimension {
			col.SQLType = DateType
		}
		col.Nullable = false

	case total > 0 && float64(numeric)/float64(total) >= in.NumericThreshold:
		col.SemanticType = Numeric
		col.SQLType = in.NumericType
		col.Nullable = anyBlank

	default:
		col.SemanticType = Text
		col.SQLType = VarcharType(min(max(maxLen, in.MinVarchar), in.MaxVarchar))
		col.Nullable = anyBlank
	}
	return col
}
