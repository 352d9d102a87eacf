package ddl

import (
	"fmt"
	"strings"

	"sheetetl/internal/schema"
)

// ForeignKey is a date foreign key from Schema.Table(Column) to the dimension.
type ForeignKey struct {
	Name      string
	Schema    string
	Table     string
	Column    string
	RefSchema string
	RefTable  string
	RefColumn string
}

// Dialect renders the backend-specific parts of the DDL. Every statement it
// returns must be safe to execute again against an already-built schema.
type Dialect interface {
	Name() string
	Quote(ident string) string
	// MaxIdentifierLength is the identifier limit in bytes, 0 for none.
	MaxIdentifierLength() int
	TableName(schemaName, table string) string
	ColumnType(t schema.SQLType) string
	SurrogateKey(column string) string

	// CreateSchema returns "" for dialects without schemas.
	CreateSchema(schemaName string) string
	CreateTable(schemaName, table string, defs []string) string
	// AddForeignKey returns "" when foreign keys must be declared inside
	// CREATE TABLE through ForeignKeyClause instead.
	AddForeignKey(fk ForeignKey) string
	ForeignKeyClause(fk ForeignKey) string
	// CommentColumn returns "" when the dialect has no column comments.
	CommentColumn(schemaName, table, column, text string) string
}

// DialectFor maps a storage kind to its dialect.
func DialectFor(kind string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "postgres", "postgresql", "pg", "memory":
		return Postgres{}, nil
	case "sqlserver", "mssql":
		return SQLServer{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("ddl: unsupported dialect %q", kind)
	}
}

// sqlString returns s as a single-quoted SQL literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func indentDefs(defs []string) string {
	return "\n    " + strings.Join(defs, ",\n    ") + "\n"
}
