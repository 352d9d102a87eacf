// Package sqlite implements storage.Repository on a single SQLite database
// using the pure-Go modernc.org/sqlite driver.
//
// SQLite has no schemas: schema.table lives in the flat table schema__table
// (see ddl.FlatName). Foreign keys are enforced through PRAGMA foreign_keys.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"sheetetl/internal/ddl"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
)

// SQLITE_MAX_VARIABLE_NUMBER defaults to 32766 since 3.32.
const maxParams = 32766

const keyChunk = 500

func init() {
	storage.Register("sqlite", New)
}

type Repo struct {
	db      *sql.DB
	cfg     storage.Config
	dialect ddl.SQLite
}

// New opens cfg.DSN (a file path or ":memory:") with one connection, so an
// in-memory database is shared by every call and writers never contend.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: missing dsn")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Repo{db: db, cfg: cfg}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Dialect() ddl.Dialect { return r.dialect }

// ExecStatements runs stmts in one transaction; SQLite DDL is transactional.
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

// scanKeys accepts the date column as TEXT or as time.Time: modernc parses
// text stored in DATE-declared columns.
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

// InsertRows inserts rows in one transaction.
//
// The transaction is used for every batch; going through r.db while it is
// open would wait forever on the single connection.
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
		q, args := buildInsertSQL(r.dialect, target, columns, rows[c[0]:c[1]], conflictColumns)
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

// bindValue stores dates as ISO-8601 text, the form SQLite's date functions
// understand, and decimals as their exact text.
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

func buildInsertSQL(d ddl.SQLite, table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	writeIdentList(&b, d, columns)
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, bindValue(row[j]))
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

func buildEnsureDatesSQL(d ddl.SQLite, table, dateColumn string, dates []civil.Date) (string, []any) {
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
		b.WriteString("(?)")
		args = append(args, dt.String())
	}
	b.WriteString(" ON CONFLICT (")
	b.WriteString(d.Quote(dateColumn))
	b.WriteString(") DO NOTHING")
	return b.String(), args
}

func buildSelectDatesSQL(d ddl.SQLite, table string, dim schema.DimensionSpec, dates []civil.Date) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s FROM %s WHERE %s IN (",
		d.Quote(dim.DateColumn), d.Quote(dim.KeyColumn), table, d.Quote(dim.DateColumn))
	args := make([]any, 0, len(dates))
	for i, dt := range dates {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
		args = append(args, dt.String())
	}
	b.WriteString(")")
	return b.String(), args
}

func writeIdentList(b *strings.Builder, d ddl.SQLite, names []string) {
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(n))
	}
}

var _ storage.Repository = (*Repo)(nil)
