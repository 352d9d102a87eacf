// Package pipeline runs a workbook end to end: plan tables, execute their DDL,
// resolve dates against the dimension and load every table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sheetetl/internal/ddl"
	"sheetetl/internal/dimension"
	"sheetetl/internal/metrics"
	"sheetetl/internal/normalize"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
	"sheetetl/internal/transform"
)

// Engine loads one workbook per Run. Repo is required; the rest has usable
// zero values except Dimension, which callers normally take from config.
type Engine struct {
	Repo       storage.Repository
	Dimension  schema.DimensionSpec
	Inferencer schema.Inferencer
	Dates      normalize.DateOptions
	Logger     *slog.Logger
	Metrics    metrics.Backend

	// Prewarm loads every existing dimension key before the first table.
	Prewarm bool
	// RunID tags logs; a random one is generated when empty.
	RunID string
}

// LoadError reports the table whose rows could not be loaded. Tables loaded
// before it stay loaded.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Table, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }

// TableSummary is the outcome for one table.
type TableSummary struct {
	Table    string
	Rows     int   // non-blank rows transformed
	Inserted int64 // rows written; conflicts are skipped
	Dates    int   // distinct dates resolved
}

type Summary struct {
	RunID      string
	Statements int
	Tables     []TableSummary
	Dimension  dimension.Stats
	Duration   time.Duration
}

// Plan infers table specs for sheets and synthesizes their DDL for d. It
// touches no database. Identifiers are held to d's length limit unless in
// sets its own.
func Plan(sheets []schema.Sheet, dim schema.DimensionSpec, in schema.Inferencer, d ddl.Dialect) ([]schema.TableSpec, []ddl.Statement, error) {
	if in.MaxIdentifier == 0 {
		in.MaxIdentifier = d.MaxIdentifierLength()
	}
	specs, err := schema.Plan(sheets, dim, in)
	if err != nil {
		return nil, nil, err
	}
	return specs, ddl.Synthesize(specs, dim, d), nil
}

// Run plans sheets, executes the DDL phase by phase, then loads the
// dimension sheet (if any) followed by every other table in input order.
//
// A naming collision fails before any statement runs. A failed statement
// returns *storage.StatementError; a failed table returns *LoadError.
func (e *Engine) Run(ctx context.Context, sheets []schema.Sheet) (Summary, error) {
	if e.Repo == nil {
		return Summary{}, errors.New("pipeline: Repo is required")
	}
	runID := e.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := e.logger().With("run_id", runID)
	m := e.metrics()
	runStart := time.Now()
	sum := Summary{RunID: runID}

	start := time.Now()
	specs, stmts, err := Plan(sheets, e.Dimension, e.Inferencer, e.Repo.Dialect())
	metrics.Step(m, "plan", err, time.Since(start))
	if err != nil {
		return sum, fmt.Errorf("plan: %w", err)
	}
	log.Info("stage=plan ok", "tables", len(specs), "statements", len(stmts), "duration", durMS(start))

	for _, phase := range []ddl.Phase{ddl.PhaseSchema, ddl.PhaseTable} {
		batch := ddl.ByPhase(stmts, phase)
		start = time.Now()
		err := e.Repo.ExecStatements(ctx, batch)
		metrics.Step(m, "ddl_"+phase.String(), err, time.Since(start))
		if err != nil {
			log.Error("stage=ddl failed", "phase", phase.String(), "err", err)
			return sum, err
		}
		sum.Statements += len(batch)
		log.Info("stage=ddl ok", "phase", phase.String(), "statements", len(batch), "duration", durMS(start))
	}

	resolver := dimension.NewResolver(e.Repo, e.Dimension)
	if e.Prewarm {
		start = time.Now()
		if err := resolver.Prewarm(ctx); err != nil {
			return sum, err
		}
		log.Info("stage=prewarm ok", "duration", durMS(start))
	}

	// The dimension goes first so its rows, not generated ones, own the
	// keys of the dates they list.
	order := make([]int, 0, len(specs))
	for i, s := range specs {
		if s.Dimension {
			order = append([]int{i}, order...)
		} else {
			order = append(order, i)
		}
	}

	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ts, err := e.loadTable(ctx, log, resolver, specs[i], sheets[i].Rows)
		if err != nil {
			return sum, &LoadError{Table: specs[i].QualifiedName(), Err: err}
		}
		sum.Tables = append(sum.Tables, ts)
	}

	sum.Dimension = resolver.Stats()
	m.IncCounter(metrics.DimensionDatesTotal, float64(sum.Dimension.Cached), metrics.Labels{"status": "cached"})
	m.IncCounter(metrics.DimensionDatesTotal, float64(sum.Dimension.Resolved), metrics.Labels{"status": "resolved"})
	sum.Duration = time.Since(runStart)
	log.Info("stage=run ok",
		"tables", len(sum.Tables),
		"dates_cached", sum.Dimension.Cached,
		"dates_resolved", sum.Dimension.Resolved,
		"duration", durMS(runStart),
	)
	return sum, nil
}

func (e *Engine) loadTable(ctx context.Context, log *slog.Logger, resolver *dimension.Resolver, spec schema.TableSpec, rows [][]schema.RawCell) (ts TableSummary, err error) {
	table := spec.QualifiedName()
	ts.Table = table
	start := time.Now()
	defer func() { metrics.Step(e.metrics(), "load", err, time.Since(start)) }()

	tuples, dates := transform.Transform(spec, rows, transform.Options{Dates: e.Dates})
	if spec.Dimension {
		tuples = dropUndated(spec, tuples, e.Dimension.DateColumn)
	}
	ts.Rows = len(tuples)
	ts.Dates = len(dates)
	if len(tuples) == 0 {
		log.Info("stage=load skipped", "table", table, "rows", 0)
		return ts, nil
	}

	var conflict []string
	if spec.Dimension {
		conflict = []string{e.Dimension.DateColumn}
	} else {
		keys, err := resolver.Resolve(ctx, dates.Sorted())
		if err != nil {
			return ts, err
		}
		if tuples, err = transform.Finalize(spec, tuples, keys); err != nil {
			return ts, err
		}
		if spec.PrimaryKey != "" {
			conflict = []string{spec.PrimaryKey}
		}
	}

	n, err := e.Repo.InsertRows(ctx, table, spec.ColumnNames(), transform.Rows(tuples), conflict)
	if err != nil {
		log.Error("stage=load failed", "table", table, "rows", len(tuples), "err", err)
		return ts, err
	}
	ts.Inserted = n
	e.metrics().IncCounter(metrics.RowsTotal, float64(n), metrics.Labels{"table": table})
	log.Info("stage=load ok",
		"table", table,
		"rows", len(tuples),
		"inserted", n,
		"dates", len(dates),
		"duration", durMS(start),
	)
	return ts, nil
}

// dropUndated removes dimension rows whose date did not parse; the date is
// the dimension's natural key and cannot be NULL.
func dropUndated(spec schema.TableSpec, tuples []transform.Tuple, dateColumn string) []transform.Tuple {
	idx := -1
	for i, c := range spec.Columns {
		if c.Name == dateColumn {
			idx = i
		}
	}
	if idx < 0 {
		return tuples
	}
	out := tuples[:0]
	for _, t := range tuples {
		if t[idx] != nil {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

func (e *Engine) metrics() metrics.Backend {
	if e.Metrics == nil {
		return metrics.Nop{}
	}
	return e.Metrics
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
