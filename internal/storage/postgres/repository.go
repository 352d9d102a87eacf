// Package postgres implements storage.Repository on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-sql/civil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"sheetetl/internal/ddl"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
)

// PostgreSQL accepts at most 65535 bind parameters per statement.
const maxParams = 65535

// keyChunk bounds the IN/VALUES lists used for dimension lookups.
const keyChunk = 2000

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for PostgreSQL.
type Repo struct {
	pool    *pgxpool.Pool
	cfg     storage.Config
	dialect ddl.Postgres
}

// New opens a pool for cfg.DSN and pings it.
//
// Edge cases:
//   - An empty DSN is valid: pgx then reads the libpq PG* environment
//     variables (PGHOST, PGUSER, PGPASSWORD, PGDATABASE, ...).
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool, cfg: cfg}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) Dialect() ddl.Dialect { return r.dialect }

// ExecStatements runs stmts in one transaction. PostgreSQL DDL is
// transactional, so a failure leaves none of the batch behind.
func (r *Repo) ExecStatements(ctx context.Context, stmts []ddl.Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ExecStatements: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s.SQL); err != nil {
			return &storage.StatementError{Statement: s, Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ExecStatements: commit: %w", err)
	}
	return nil
}

// EnsureDimensionKeys inserts missing dates with ON CONFLICT DO NOTHING on
// the date column's unique constraint.
func (r *Repo) EnsureDimensionKeys(ctx context.Context, dim schema.DimensionSpec, dates []civil.Date) error {
	uniq := storage.UniqueDates(dates)
	if len(uniq) == 0 {
		return nil
	}
	table := r.dialect.TableName(dim.Schema, dim.Table)
	for _, c := range storage.Chunks(len(uniq), keyChunk) {
		q, args := buildEnsureDatesSQL(r.dialect, table, dim.DateColumn, uniq[c[0]:c[1]])
		if _, err := r.pool.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("EnsureDimensionKeys: insert into %s: %w", dim.QualifiedName(), err)
		}
	}
	return nil
}

// SelectKeysByDates returns date -> surrogate key for the dates present.
//
// This uses a parameterized IN (...) list (chunked) instead of ANY($1) arrays
// to avoid driver array-typing edge cases.
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

// SelectAllDateKeys returns the whole dimension; used to prewarm caches.
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
	rows, err := r.pool.Query(ctx, q, args...)
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

// InsertRows inserts rows in batches inside one transaction, so a failing
// batch rolls back the whole table load.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	schemaName, name := storage.SplitQualifiedName(table)
	target := r.dialect.TableName(schemaName, name)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("InsertRows: begin %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, c := range storage.Chunks(len(rows), r.cfg.RowsPerStatement(len(columns), maxParams)) {
		q, args := buildInsertSQL(r.dialect, target, columns, rows[c[0]:c[1]], conflictColumns)
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("InsertRows: %s rows %d-%d: %w", table, c[0]+1, c[1], err)
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("InsertRows: commit %s: %w", table, err)
	}
	return total, nil
}

// bindValue converts row values to types pgx encodes without registration.
// Dates and decimals travel as text and are cast by the server.
func bindValue(v any) any {
	switch t := v.(type) {
	case civil.Date:
		return t.String()
	case decimal.Decimal:
		return t.String()
	default:
		return v
	}
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
//
// Constraints:
//   - every row must have len(columns) values.
//   - columns must be non-empty.
func buildInsertSQL(d ddl.Postgres, table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	writeIdentList(&b, d, columns)
	b.WriteString(") VALUES ")

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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, bindValue(row[j]))
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		writeIdentList(&b, d, conflictColumns)
		b.WriteString(") DO NOTHING")
	}
	return b.String(), args
}

func buildEnsureDatesSQL(d ddl.Postgres, table, dateColumn string, dates []civil.Date) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(d.Quote(dateColumn))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(dates))
	for i, dt := range dates {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d::date)", i+1)
		args = append(args, dt.String())
	}
	b.WriteString(" ON CONFLICT (")
	b.WriteString(d.Quote(dateColumn))
	b.WriteString(") DO NOTHING")
	return b.String(), args
}

func buildSelectDatesSQL(d ddl.Postgres, table string, dim schema.DimensionSpec, dates []civil.Date) (string, []any) {
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
		fmt.Fprintf(&b, "$%d::date", i+1)
		args = append(args, dt.String())
	}
	b.WriteString(")")
	return b.String(), args
}

func writeIdentList(b *strings.Builder, d ddl.Postgres, names []string) {
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(n))
	}
}

var _ storage.Repository = (*Repo)(nil)
