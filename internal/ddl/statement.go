// Package ddl synthesizes the ordered, idempotent DDL for a planned workbook:
// schemas first, then the date dimension, then every other table followed by
// its date foreign keys. Nothing here talks to a database; statements are data
// handed to a storage.Repository.
package ddl

import "strings"

// Phase groups statements that are executed as one batch. A failure aborts
// the rest of its phase.
type Phase uint8

const (
	PhaseSchema Phase = iota
	PhaseTable
)

func (p Phase) String() string {
	switch p {
	case PhaseSchema:
		return "schema"
	case PhaseTable:
		return "table"
	default:
		return "unknown"
	}
}

// Kind identifies what a statement creates.
type Kind uint8

const (
	CreateSchema Kind = iota
	CreateTable
	AddForeignKey
	CommentColumn
)

func (k Kind) String() string {
	switch k {
	case CreateSchema:
		return "create_schema"
	case CreateTable:
		return "create_table"
	case AddForeignKey:
		return "add_foreign_key"
	case CommentColumn:
		return "comment_column"
	default:
		return "unknown"
	}
}

// Statement is one executable DDL statement plus the identity of the object it
// touches, used when reporting failures.
type Statement struct {
	Phase  Phase
	Kind   Kind
	Object string
	SQL    string
}

// ByPhase returns the statements of phase p, preserving order.
func ByPhase(stmts []Statement, p Phase) []Statement {
	var out []Statement
	for _, s := range stmts {
		if s.Phase == p {
			out = append(out, s)
		}
	}
	return out
}

// Render joins statements into a script, one statement per paragraph.
func Render(stmts []Statement) string {
	var b strings.Builder
	for i, s := range stmts {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.SQL)
		b.WriteString(";\n")
	}
	return b.String()
}
