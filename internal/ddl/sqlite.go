package ddl

import (
	"fmt"

	"sheetetl/internal/ident"
	"sheetetl/internal/schema"
)

// SQLite renders DDL for a single SQLite database. Schemas do not exist, so
// schema.table is flattened to schema__table, and foreign keys live inside
// CREATE TABLE because SQLite cannot add constraints later.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(s string) string { return ident.Quote(s, '"', '"') }

func (SQLite) MaxIdentifierLength() int { return 0 }

func (d SQLite) TableName(schemaName, table string) string {
	return d.Quote(FlatName(schemaName, table))
}

// FlatName is the SQLite table name for schema.table.
func FlatName(schemaName, table string) string { return schemaName + "__" + table }

// ColumnType stores NUMERIC as TEXT: NUMERIC affinity would turn decimals
// into REAL and drop digits past the fifteenth.
func (SQLite) ColumnType(t schema.SQLType) string {
	switch t.Name {
	case "NUMERIC", "DECIMAL":
		return "TEXT"
	default:
		return t.String()
	}
}

func (d SQLite) SurrogateKey(column string) string {
	return d.Quote(column) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (SQLite) CreateSchema(string) string { return "" }

func (d SQLite) CreateTable(schemaName, table string, defs []string) string {
	return "CREATE TABLE IF NOT EXISTS " + d.TableName(schemaName, table) + " (" + indentDefs(defs) + ")"
}

func (SQLite) AddForeignKey(ForeignKey) string { return "" }

func (d SQLite) ForeignKeyClause(fk ForeignKey) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.Quote(fk.Name), d.Quote(fk.Column), d.TableName(fk.RefSchema, fk.RefTable), d.Quote(fk.RefColumn))
}

func (SQLite) CommentColumn(_, _, _, _ string) string { return "" }
