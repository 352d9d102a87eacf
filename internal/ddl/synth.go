package ddl

import (
	"fmt"

	"sheetetl/internal/schema"
)

// Synthesize turns planned tables into ordered DDL for dialect d.
//
// Order:
//  1. one CREATE SCHEMA per distinct schema, dimension schema first, then
//     first-seen order;
//  2. the date dimension (from specs if a sheet provided it, synthetic
//     otherwise);
//  3. every other table in input order, each followed by one foreign key per
//     Date column and a comment per derived column.
//
// The output depends only on its inputs.
func Synthesize(specs []schema.TableSpec, dim schema.DimensionSpec, d Dialect) []Statement {
	dimSpec := schema.Dimension(specs, dim)

	var out []Statement
	seen := make(map[string]bool)
	addSchema := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if sql := d.CreateSchema(name); sql != "" {
			out = append(out, Statement{Phase: PhaseSchema, Kind: CreateSchema, Object: name, SQL: sql})
		}
	}
	addSchema(dimSpec.Schema)
	for _, s := range specs {
		if !s.Dimension {
			addSchema(s.Schema)
		}
	}

	out = append(out, dimensionTable(dimSpec, dim, d))
	out = append(out, comments(dimSpec, d)...)

	for _, s := range specs {
		if s.Dimension {
			continue
		}
		out = append(out, table(s, dim, d)...)
	}
	return out
}

func dimensionTable(t schema.TableSpec, dim schema.DimensionSpec, d Dialect) Statement {
	defs := []string{d.SurrogateKey(dim.KeyColumn)}
	for _, c := range t.Columns {
		def := columnDef(c, d)
		if c.Name == dim.DateColumn {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}
	return Statement{
		Phase:  PhaseTable,
		Kind:   CreateTable,
		Object: t.QualifiedName(),
		SQL:    d.CreateTable(t.Schema, t.Table, defs),
	}
}

func table(t schema.TableSpec, dim schema.DimensionSpec, d Dialect) []Statement {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		defs = append(defs, columnDef(c, d))
	}

	var alters []Statement
	for _, c := range t.Columns {
		switch c.SemanticType {
		case schema.Date:
			fk := ForeignKey{
				Name:      schema.ForeignKeyName(t.Table, c.Name, d.MaxIdentifierLength()),
				Schema:    t.Schema,
				Table:     t.Table,
				Column:    c.Name,
				RefSchema: dim.Schema,
				RefTable:  dim.Table,
				RefColumn: dim.KeyColumn,
			}
			if sql := d.AddForeignKey(fk); sql != "" {
				alters = append(alters, Statement{
					Phase:  PhaseTable,
					Kind:   AddForeignKey,
					Object: t.QualifiedName() + "." + fk.Name,
					SQL:    sql,
				})
			} else {
				defs = append(defs, d.ForeignKeyClause(fk))
			}
		case schema.Identifier, schema.Numeric, schema.Text:
		}
	}

	out := make([]Statement, 0, 1+len(alters))
	out = append(out, Statement{
		Phase:  PhaseTable,
		Kind:   CreateTable,
		Object: t.QualifiedName(),
		SQL:    d.CreateTable(t.Schema, t.Table, defs),
	})
	out = append(out, alters...)
	return append(out, comments(t, d)...)
}

func columnDef(c schema.ColumnInference, d Dialect) string {
	def := d.Quote(c.Name) + " " + d.ColumnType(c.SQLType)
	switch {
	case c.PrimaryKey:
		return def + " PRIMARY KEY"
	case c.Nullable:
		return def + " NULL"
	default:
		return def + " NOT NULL"
	}
}

func comments(t schema.TableSpec, d Dialect) []Statement {
	var out []Statement
	for _, c := range t.Columns {
		if !c.IsDerived {
			continue
		}
		text := "derived column"
		if c.FormulaExample != "" {
			text = fmt.Sprintf("derived column; formula example: %s", c.FormulaExample)
		}
		sql := d.CommentColumn(t.Schema, t.Table, c.Name, text)
		if sql == "" {
			continue
		}
		out = append(out, Statement{
			Phase:  PhaseTable,
			Kind:   CommentColumn,
			Object: t.QualifiedName() + "." + c.Name,
			SQL:    sql,
		})
	}
	return out
}
