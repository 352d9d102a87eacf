package schema

import (
	"fmt"
	"strconv"
	"strings"

	"sheetetl/internal/ident"
)

// Sheet is what extraction hands over for one qualifying sheet: the
// schema/table split of its name, the header row and the data rows. Rows may
// be ragged; missing trailing cells are absent.
type Sheet struct {
	Name    string
	Schema  string
	Table   string
	Headers []string
	Rows    [][]RawCell
}

// Plan infers one TableSpec per sheet, in input order.
//
// The sheet named like the dimension becomes the dimension's spec. Naming
// collisions (two headers or two sheets sanitizing and truncating to the same
// identifier) are returned as *CollisionError before anything else is derived
// from them.
func Plan(sheets []Sheet, dim DimensionSpec, in Inferencer) ([]TableSpec, error) {
	in = in.withDefaults()

	seen := make(map[string]string, len(sheets))
	out := make([]TableSpec, 0, len(sheets))
	for _, sh := range sheets {
		schemaName := ident.Truncate(ident.Sanitize(sh.Schema), in.MaxIdentifier)
		table := ident.Truncate(ident.Sanitize(sh.Table), in.MaxIdentifier)
		if schemaName == "" || table == "" {
			return nil, fmt.Errorf("schema: sheet %q: empty schema or table name", sh.Name)
		}
		q := schemaName + "." + table
		if prev, dup := seen[q]; dup {
			return nil, &CollisionError{Identifier: q, First: prev, Second: sh.Name}
		}
		seen[q] = sh.Name

		spec, err := in.planTable(sh, schemaName, table, dim)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// ColumnIdentifiers sanitizes headers, naming blank ones col_<n> (1-based),
// and truncates them to limit bytes (0 for no limit).
func ColumnIdentifiers(table string, headers []string, limit int) ([]string, error) {
	names := make([]string, len(headers))
	bySanitized := make(map[string]string, len(headers))
	for i, h := range headers {
		src := strings.TrimSpace(h)
		if src == "" {
			src = "col_" + strconv.Itoa(i+1)
		}
		name := ident.Truncate(ident.Sanitize(src), limit)
		if prev, dup := bySanitized[name]; dup {
			return nil, &CollisionError{Table: table, Identifier: name, First: prev, Second: src}
		}
		bySanitized[name] = src
		names[i] = name
	}
	return names, nil
}

func (in Inferencer) planTable(sh Sheet, schemaName, table string, dim DimensionSpec) (TableSpec, error) {
	q := schemaName + "." + table
	names, err := ColumnIdentifiers(q, sh.Headers, in.MaxIdentifier)
	if err != nil {
		return TableSpec{}, err
	}
	if len(names) == 0 {
		return TableSpec{}, fmt.Errorf("schema: sheet %q has no header columns", sh.Name)
	}

	role := RoleTable
	if dim.Matches(schemaName, table) {
		role = RoleDimension
	}

	rows := sh.Rows
	if in.SampleSize > 0 && len(rows) > in.SampleSize {
		rows = rows[:in.SampleSize]
	}

	spec := TableSpec{Schema: schemaName, Table: table, Source: sh.Name}
	samples := make([]RawCell, len(rows))
	for j, name := range names {
		for i, r := range rows {
			samples[i] = RawCell{}
			if j < len(r) {
				samples[i] = r[j]
			}
		}
		source := name
		if j < len(sh.Headers) && strings.TrimSpace(sh.Headers[j]) != "" {
			source = sh.Headers[j]
		}
		col := in.InferColumn(name, source, samples, role)
		col.Position = j
		if col.PrimaryKey {
			if spec.PrimaryKey != "" {
				col.PrimaryKey = false
			} else {
				spec.PrimaryKey = col.Name
			}
		}
		spec.Columns = append(spec.Columns, col)
	}

	if role == RoleDimension {
		return dimensionTable(spec, dim)
	}
	return spec, nil
}

// dimensionTable reshapes a workbook-provided dimension sheet: the configured
// date column becomes the DATE natural key, the surrogate key column is
// dropped (the database generates it) and every other column is nullable.
//
// The key and date columns match case-insensitively, so a sheet carrying both
// "date" and "Date" is a collision.
func dimensionTable(spec TableSpec, dim DimensionSpec) (TableSpec, error) {
	var (
		cols    []ColumnInference
		dateSrc string
		keySrc  string
	)
	for _, c := range spec.Columns {
		switch {
		case strings.EqualFold(c.Name, dim.KeyColumn):
			if keySrc != "" {
				return TableSpec{}, &CollisionError{Table: spec.QualifiedName(), Identifier: dim.KeyColumn, First: keySrc, Second: c.Source}
			}
			keySrc = c.Source
			continue
		case strings.EqualFold(c.Name, dim.DateColumn):
			if dateSrc != "" {
				return TableSpec{}, &CollisionError{Table: spec.QualifiedName(), Identifier: dim.DateColumn, First: dateSrc, Second: c.Source}
			}
			dateSrc = c.Source
			c.Name = dim.DateColumn
			c.SemanticType = Date
			c.SQLType = DateType
			c.Nullable = false
		default:
			c.Nullable = true
		}
		c.PrimaryKey = false
		cols = append(cols, c)
	}
	if dateSrc == "" {
		return TableSpec{}, fmt.Errorf("schema: dimension sheet %q has no %q column", spec.Source, dim.DateColumn)
	}
	spec.Columns = cols
	spec.PrimaryKey = dim.DateColumn
	spec.Dimension = true
	return spec, nil
}

// SyntheticDimension is the dimension spec used when no sheet provides one.
func SyntheticDimension(dim DimensionSpec) TableSpec {
	return TableSpec{
		Schema: dim.Schema,
		Table:  dim.Table,
		Columns: []ColumnInference{{
			Name:         dim.DateColumn,
			Source:       dim.DateColumn,
			SemanticType: Date,
			SQLType:      DateType,
		}},
		PrimaryKey: dim.DateColumn,
		Dimension:  true,
	}
}

// Dimension returns the workbook's dimension spec if planned, else the
// synthetic one.
func Dimension(specs []TableSpec, dim DimensionSpec) TableSpec {
	for _, s := range specs {
		if s.Dimension {
			return s
		}
	}
	return SyntheticDimension(dim)
}
