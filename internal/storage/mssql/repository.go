// Package mssql implements storage.Repository for Microsoft SQL Server via
// database/sql and github.com/microsoft/go-mssqldb.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/golang-sql/civil"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"sheetetl/internal/ddl"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
)

// SQL Server caps a request at 2100 parameters; keep headroom.
const maxParams = 2000

const keyChunk = 1000

func init() {
	storage.Register("sqlserver", New)
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for SQL Server.
//
// Unlike PostgreSQL's ON CONFLICT, an INSERT ... WHERE NOT EXISTS does not
// collapse duplicates inside its own VALUES source, so rows are deduped by
// the conflict columns before every batch (first occurrence wins).
type Repo struct {
	db      *sql.DB
	cfg     storage.Config
	dialect ddl.SQLServer
}

// New opens a "sqlserver" database/sql handle and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return newRepo(db, cfg), nil
}

func newRepo(db *sql.DB, cfg storage.Config) *Repo {
	return &Repo{db: db, cfg: cfg}
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) Dialect() ddl.Dialect { return r.dialect }

// ExecStatements runs stmts in one transaction.
func (r *Repo) ExecStatements(ctx context.Context, stmts []ddl.Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ExecStatements: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.SQL); err != nil {
			return &storage.StatementError{Statement: s, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ExecStatements: commit: %w", err)
	}
	return nil
}

// EnsureDimensionKeys inserts dates missing from the dimension with a
// set-based LEFT JOIN anti-join.
func (r *Repo) EnsureDimensionKeys(ctx context.Context, dim schema.DimensionSpec, dates []civil.Date) error {
	uniq := storage.UniqueDates(dates)
	if len(uniq) == 0 {
		return nil
	}
	table := r.dialect.TableName(dim.Schema, dim.Table)
	for _, c := range storage.Chunks(len(uniq), keyChunk) {
		q, args := buildEnsureDatesSQL(r.dialect, table, dim.DateColumn, uniq[c[0]:c[1]])
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("EnsureDimensionKeys: insert into %s: %w", dim.QualifiedName(), err)
		}
	}
	return nil
}

func (r *Repo) SelectKeysByDates(ctx context.Context, dim schema.DimensionSpec, dates []civil.Date) (map[civil.Date]int64, error) {
	uniq := storage.UniqueDates(dates)
	out := make(map[civil.Date]int64, len(uniq))
	table := r.dialect.TableName(dim.Schema, dim.Table)

	for _, c := range storage.Chunks(len(uniq), keyChunk) {
		q, args := buildSelectDatesSQL(r.dialect, table, dim, uniq[c[0]:c[1]])
		if err := r.scanKeys(ctx, q, args, out); err != nil {
			return nil, fmt.Errorf("SelectKeysByDates: %s: %w", dim.QualifiedName(), err)
		}
	}
	return out, nil
}

func (r *Repo) SelectAllDateKeys(ctx context.Context, dim schema.DimensionSpec) (map[civil.Date]int64, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s",
		r.dialect.Quote(dim.DateColumn), r.dialect.Quote(dim.KeyColumn), r.dialect.TableName(dim.Schema, dim.Table))
	out := make(map[civil.Date]int64)
	if err := r.scanKeys(ctx, q, nil, out); err != nil {
		return nil, fmt.Errorf("SelectAllDateKeys: %s: %w", dim.QualifiedName(), err)
	}
	return out, nil
}

func (r *Repo) scanKeys(ctx context.Context, q string, args []any, out map[civil.Date]int64) error {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return err
		}
		if d, ok := storage.DateKey(k); ok {
			out[d] = id
		}
	}
	return rows.Err()
}

// InsertRows inserts rows in one transaction. With conflict columns it uses
// INSERT ... SELECT ... WHERE NOT EXISTS so re-runs skip loaded keys.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	schemaName, name := storage.SplitQualifiedName(table)
	target := r.dialect.TableName(schemaName, name)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("InsertRows: begin %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, c := range storage.Chunks(len(rows), r.cfg.RowsPerStatement(len(columns), maxParams)) {
		batch := rows[c[0]:c[1]]
		var q string
		var args []any
		if len(conflictColumns) > 0 {
			deduped, err := dedupeRowsByColumns(batch, columns, conflictColumns)
			if err != nil {
				return 0, fmt.Errorf("InsertRows: %s: %w", table, err)
			}
			q, args = buildInsertNotExistsSQL(r.dialect, target, columns, deduped, conflictColumns)
		} else {
			q, args = buildInsertSQL(r.dialect, target, columns, batch)
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("InsertRows: %s rows %d-%d: %w", table, c[0]+1, c[1], err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("InsertRows: commit %s: %w", table, err)
	}
	return total, nil
}

// bindValue passes civil.Date through (go-mssqldb sends it as DATE) and
// sends decimals as text for an implicit NUMERIC conversion.
func bindValue(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return d.String()
	}
	return v
}

// dedupeRowsByColumns keeps the first row per key, preserving order.
func dedupeRowsByColumns(rows [][]any, columns, keyColumns []string) ([][]any, error) {
	idx := make([]int, 0, len(keyColumns))
	for _, k := range keyColumns {
		i := indexOf(columns, k)
		if i < 0 {
			return nil, fmt.Errorf("conflict column %q not in insert columns %v", k, columns)
		}
		idx = append(idx, i)
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		var kb strings.Builder
		for _, i := range idx {
			fmt.Fprintf(&kb, "%T:%v\x1f", row[i], row[i])
		}
		key := kb.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

func buildEnsureDatesSQL(d ddl.SQLServer, table, dateColumn string, dates []civil.Date) (string, []any) {
	col := d.Quote(dateColumn)
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(col)
	b.WriteString(") SELECT v.[d] FROM (VALUES ")

	args := make([]any, 0, len(dates))
	for i, dt := range dates {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(@p%d)", i+1)
		args = append(args, dt)
	}

	b.WriteString(") AS v([d]) LEFT JOIN ")
	b.WriteString(table)
	b.WriteString(" t ON t.")
	b.WriteString(col)
	b.WriteString(" = v.[d] WHERE t.")
	b.WriteString(col)
	b.WriteString(" IS NULL")
	return b.String(), args
}

func buildSelectDatesSQL(d ddl.SQLServer, table string, dim schema.DimensionSpec, dates []civil.Date) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(d.Quote(dim.DateColumn))
	b.WriteString(", ")
	b.WriteString(d.Quote(dim.KeyColumn))
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(" WHERE ")
	b.WriteString(d.Quote(dim.DateColumn))
	b.WriteString(" IN (")

	args := make([]any, 0, len(dates))
	for i, dt := range dates {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
		args = append(args, dt)
	}
	b.WriteString(")")
	return b.String(), args
}

func buildInsertSQL(d ddl.SQLServer, table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	writeIdentList(&b, d, "", columns)
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildInsertNotExistsSQL materializes rows as a derived table v and inserts
// only those whose key is absent from the target.
func buildInsertNotExistsSQL(d ddl.SQLServer, table string, columns []string, rows [][]any, keyColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	writeIdentList(&b, d, "", columns)
	b.WriteString(") SELECT ")
	writeIdentList(&b, d, "v.", columns)
	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	writeIdentList(&b, d, "", columns)
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(table)
	b.WriteString(" t WHERE ")
	for i, k := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(d.Quote(k))
		b.WriteString(" = v.")
		b.WriteString(d.Quote(k))
	}
	b.WriteString(")")
	return b.String(), args
}

func writeIdentList(b *strings.Builder, d ddl.SQLServer, prefix string, names []string) {
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefix)
		b.WriteString(d.Quote(n))
	}
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, bindValue(row[j]))
			p++
		}
		b.WriteString(")")
	}
	return args
}

var _ storage.Repository = (*Repo)(nil)
