package ddl

import (
	"fmt"

	"sheetetl/internal/ident"
	"sheetetl/internal/schema"
)

// Postgres renders PostgreSQL DDL.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(s string) string { return ident.Quote(s, '"', '"') }

func (Postgres) MaxIdentifierLength() int { return ident.PostgresMaxLength }

func (p Postgres) TableName(schemaName, table string) string {
	return p.Quote(schemaName) + "." + p.Quote(table)
}

func (Postgres) ColumnType(t schema.SQLType) string { return t.String() }

func (p Postgres) SurrogateKey(column string) string {
	return p.Quote(column) + " SERIAL PRIMARY KEY"
}

func (p Postgres) CreateSchema(schemaName string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + p.Quote(schemaName)
}

func (p Postgres) CreateTable(schemaName, table string, defs []string) string {
	return "CREATE TABLE IF NOT EXISTS " + p.TableName(schemaName, table) + " (" + indentDefs(defs) + ")"
}

// AddForeignKey guards ALTER TABLE with a pg_constraint lookup; PostgreSQL has
// no ADD CONSTRAINT IF NOT EXISTS.
func (p Postgres) AddForeignKey(fk ForeignKey) string {
	table := p.TableName(fk.Schema, fk.Table)
	return fmt.Sprintf(
		"DO $$\nBEGIN\n    IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = %s AND conrelid = %s::regclass) THEN\n        ALTER TABLE %s ADD %s;\n    END IF;\nEND\n$$",
		sqlString(fk.Name),
		sqlString(table),
		table,
		p.ForeignKeyClause(fk),
	)
}

func (p Postgres) ForeignKeyClause(fk ForeignKey) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		p.Quote(fk.Name), p.Quote(fk.Column), p.TableName(fk.RefSchema, fk.RefTable), p.Quote(fk.RefColumn))
}

func (p Postgres) CommentColumn(schemaName, table, column, text string) string {
	return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", p.TableName(schemaName, table), p.Quote(column), sqlString(text))
}
