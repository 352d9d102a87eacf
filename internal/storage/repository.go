package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/golang-sql/civil"

	"sheetetl/internal/ddl"
	"sheetetl/internal/schema"
)

// Config is the minimal configuration needed to open a Repository.
//
// When to use:
//   - Use Config when constructing a Repository via New.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - New returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string

	// BatchSize caps rows per INSERT statement. Backends lower it further to
	// stay under their bind-parameter limits. Zero means DefaultBatchSize.
	BatchSize int
}

// DefaultBatchSize is the default number of rows per INSERT statement.
const DefaultBatchSize = 1000

// RowsPerStatement returns how many rows of width columns fit in one
// statement given a backend's parameter limit.
func (c Config) RowsPerStatement(columns, maxParams int) int {
	n := c.BatchSize
	if n <= 0 {
		n = DefaultBatchSize
	}
	if columns > 0 && n*columns > maxParams {
		n = max(1, maxParams/columns)
	}
	return n
}

// Repository is the execution collaborator of the pipeline: it runs
// synthesized DDL, maintains the date dimension and bulk-inserts typed rows.
//
// Table names are "schema.table" as planned; each backend maps them onto its
// own namespace rules through its Dialect.
type Repository interface {
	// Close releases any backend resources (connections, pools).
	//
	// Edge cases:
	//   - Callers should treat Close as "call once".
	Close()

	// Dialect is the DDL dialect statements must be synthesized for.
	Dialect() ddl.Dialect

	// ExecStatements runs stmts in order inside one transaction and stops at
	// the first failure, which is returned as *StatementError.
	ExecStatements(ctx context.Context, stmts []ddl.Statement) error

	// Dimension APIs: idempotent insert-if-absent plus lookup.
	EnsureDimensionKeys(ctx context.Context, dim schema.DimensionSpec, dates []civil.Date) error
	SelectKeysByDates(ctx context.Context, dim schema.DimensionSpec, dates []civil.Date) (map[civil.Date]int64, error)
	SelectAllDateKeys(ctx context.Context, dim schema.DimensionSpec) (map[civil.Date]int64, error)

	// InsertRows inserts every row in one transaction, in batches. When
	// conflictColumns is non-empty, rows conflicting on them are skipped.
	// It returns the number of rows written.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)
}

// ---- factories ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// StatementError identifies the DDL statement an executor failed on.
type StatementError struct {
	Statement ddl.Statement
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Statement.Phase, e.Statement.Kind, e.Statement.Object, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }
