package ddl

import (
	"fmt"
	"strconv"

	"sheetetl/internal/ident"
	"sheetetl/internal/schema"
)

// SQLServer renders T-SQL. Idempotency comes from SCHEMA_ID/OBJECT_ID guards.
type SQLServer struct{}

func (SQLServer) Name() string { return "sqlserver" }

func (SQLServer) Quote(s string) string { return ident.Quote(s, '[', ']') }

func (SQLServer) MaxIdentifierLength() int { return ident.SQLServerMaxLength }

func (d SQLServer) TableName(schemaName, table string) string {
	return d.Quote(schemaName) + "." + d.Quote(table)
}

func (SQLServer) ColumnType(t schema.SQLType) string {
	switch t.Name {
	case "INTEGER":
		return "INT"
	case "VARCHAR":
		if len(t.Params) == 1 && t.Params[0] <= 4000 {
			return "NVARCHAR(" + strconv.Itoa(t.Params[0]) + ")"
		}
		return "NVARCHAR(MAX)"
	case "TEXT":
		return "NVARCHAR(MAX)"
	default:
		return t.String()
	}
}

func (d SQLServer) SurrogateKey(column string) string {
	return d.Quote(column) + " INT IDENTITY(1,1) PRIMARY KEY"
}

func (d SQLServer) CreateSchema(schemaName string) string {
	return fmt.Sprintf("IF SCHEMA_ID(N%s) IS NULL EXEC(N%s)",
		sqlString(schemaName), sqlString("CREATE SCHEMA "+d.Quote(schemaName)))
}

func (d SQLServer) CreateTable(schemaName, table string, defs []string) string {
	name := d.TableName(schemaName, table)
	return fmt.Sprintf("IF OBJECT_ID(N%s, N'U') IS NULL\nBEGIN\n    CREATE TABLE %s (%s);\nEND",
		sqlString(name), name, indentDefs(defs))
}

func (d SQLServer) AddForeignKey(fk ForeignKey) string {
	return fmt.Sprintf("IF OBJECT_ID(N%s, N'F') IS NULL\n    ALTER TABLE %s ADD %s",
		sqlString(d.Quote(fk.Schema)+"."+d.Quote(fk.Name)),
		d.TableName(fk.Schema, fk.Table),
		d.ForeignKeyClause(fk),
	)
}

func (d SQLServer) ForeignKeyClause(fk ForeignKey) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.Quote(fk.Name), d.Quote(fk.Column), d.TableName(fk.RefSchema, fk.RefTable), d.Quote(fk.RefColumn))
}

// CommentColumn is unsupported: sp_addextendedproperty fails on re-run.
func (SQLServer) CommentColumn(_, _, _, _ string) string { return "" }
