// Package memory is an in-process storage backend. It executes nothing: DDL
// is recorded, tables come into existence when their CREATE TABLE statement
// is "executed", and the date dimension hands out sequential keys.
//
// It backs dry runs (storage.kind=memory) and pipeline tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-sql/civil"

	"sheetetl/internal/ddl"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
)

func init() {
	storage.Register("memory", func(_ context.Context, _ storage.Config) (storage.Repository, error) {
		return New(), nil
	})
}

// Repo is safe for concurrent use.
type Repo struct {
	mu sync.Mutex

	statements []ddl.Statement
	tables     map[string]*Table
	dates      map[civil.Date]int64
	nextKey    int64
	inserts    int

	// FailStatement, when set, is consulted before each statement is
	// recorded; a non-nil error aborts the batch like a database would.
	FailStatement func(ddl.Statement) error
	// FailInsert is consulted before each InsertRows call.
	FailInsert func(table string) error
}

// Table is the recorded content of one table.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty repository.
func New() *Repo {
	return &Repo{
		tables:  make(map[string]*Table),
		dates:   make(map[civil.Date]int64),
		nextKey: 1,
	}
}

func (r *Repo) Close() {}

func (r *Repo) Dialect() ddl.Dialect { return ddl.Postgres{} }

// ExecStatements records stmts. A failing statement leaves none of the batch
// applied.
func (r *Repo) ExecStatements(_ context.Context, stmts []ddl.Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range stmts {
		if r.FailStatement != nil {
			if err := r.FailStatement(s); err != nil {
				return &storage.StatementError{Statement: s, Err: err}
			}
		}
	}
	for _, s := range stmts {
		r.statements = append(r.statements, s)
		if s.Kind == ddl.CreateTable {
			if _, ok := r.tables[s.Object]; !ok {
				r.tables[s.Object] = &Table{}
			}
		}
	}
	return nil
}

func (r *Repo) EnsureDimensionKeys(_ context.Context, dim schema.DimensionSpec, dates []civil.Date) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tables[dim.QualifiedName()]; !ok {
		return fmt.Errorf("EnsureDimensionKeys: relation %s does not exist", dim.QualifiedName())
	}
	for _, d := range storage.UniqueDates(dates) {
		r.ensureLocked(d)
	}
	return nil
}

func (r *Repo) ensureLocked(d civil.Date) {
	if _, ok := r.dates[d]; ok {
		return
	}
	r.dates[d] = r.nextKey
	r.nextKey++
}

func (r *Repo) SelectKeysByDates(_ context.Context, _ schema.DimensionSpec, dates []civil.Date) (map[civil.Date]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[civil.Date]int64, len(dates))
	for _, d := range dates {
		if k, ok := r.dates[d]; ok {
			out[d] = k
		}
	}
	return out, nil
}

func (r *Repo) SelectAllDateKeys(_ context.Context, _ schema.DimensionSpec) (map[civil.Date]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[civil.Date]int64, len(r.dates))
	for d, k := range r.dates {
		out[d] = k
	}
	return out, nil
}

// InsertRows appends rows to table. Rows whose conflictColumns values match
// an existing row are skipped. Inserting into the dimension table also
// assigns keys to new dates in its date column.
func (r *Repo) InsertRows(_ context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if r.FailInsert != nil {
		if err := r.FailInsert(table); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[table]
	if !ok {
		return 0, fmt.Errorf("InsertRows: relation %s does not exist", table)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	r.inserts++
	if t.Columns == nil {
		t.Columns = append([]string(nil), columns...)
	}

	idx := make([]int, 0, len(conflictColumns))
	for _, c := range conflictColumns {
		for i, col := range columns {
			if strings.EqualFold(col, c) {
				idx = append(idx, i)
			}
		}
	}

	var n int64
	for _, row := range rows {
		if len(idx) > 0 && r.conflictsLocked(t, row, idx) {
			continue
		}
		t.Rows = append(t.Rows, append([]any(nil), row...))
		n++
		for _, i := range idx {
			if d, ok := row[i].(civil.Date); ok {
				r.ensureLocked(d)
			}
		}
	}
	return n, nil
}

func (r *Repo) conflictsLocked(t *Table, row []any, idx []int) bool {
	for _, existing := range t.Rows {
		match := true
		for _, i := range idx {
			if fmt.Sprint(existing[i]) != fmt.Sprint(row[i]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Statements returns every recorded statement in execution order.
func (r *Repo) Statements() []ddl.Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ddl.Statement(nil), r.statements...)
}

// Table returns a copy of the recorded table, or nil if it was never created.
func (r *Repo) Table(name string) *Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[name]
	if !ok {
		return nil
	}
	cp := &Table{Columns: append([]string(nil), t.Columns...)}
	for _, row := range t.Rows {
		cp.Rows = append(cp.Rows, append([]any(nil), row...))
	}
	return cp
}

// DimensionSize is the number of dates with a key.
func (r *Repo) DimensionSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dates)
}

// InsertCalls counts InsertRows calls that carried at least one row.
func (r *Repo) InsertCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserts
}

var _ storage.Repository = (*Repo)(nil)
