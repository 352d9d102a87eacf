package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sheetetl/internal/metrics"
	"sheetetl/internal/metrics/datadog"
	"sheetetl/internal/metrics/prompush"
	"sheetetl/internal/pipeline"
	"sheetetl/internal/storage"
)

func (a *app) newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [workbook]",
		Short: "Create the tables of a workbook and load its rows",
		Example: `  sheetetl load finance.xlsx --dsn postgres://etl@localhost/warehouse
  sheetetl load exports/ --source-kind csv --encoding windows-1252 --storage sqlite --dsn file:wh.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLoad(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

func (a *app) runLoad(ctx context.Context, out io.Writer, args []string) error {
	sheets, err := a.readSheets(ctx, args)
	if err != nil {
		return err
	}

	repo, err := storage.New(ctx, a.cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	runID := uuid.NewString()
	m := a.newMetrics(ctx, runID)
	defer func() {
		if err := m.Close(); err != nil {
			a.log.Warn("metrics: close failed", "err", err)
		}
	}()

	e := &pipeline.Engine{
		Repo:       repo,
		Dimension:  a.cfg.DimensionSpec(),
		Inferencer: a.cfg.Inferencer(),
		Dates:      a.cfg.DateOptions(),
		Logger:     a.log,
		Metrics:    m,
		Prewarm:    a.cfg.Dimension.Prewarm,
		RunID:      runID,
	}
	sum, err := e.Run(ctx, sheets)
	if err != nil {
		return err
	}

	if a.cfg.Output.Metadata != "" || a.cfg.Output.DDLDir != "" {
		specs, stmts, err := pipeline.Plan(sheets, e.Dimension, e.Inferencer, repo.Dialect())
		if err != nil {
			return err
		}
		if err := a.writeArtifacts(specs, stmts); err != nil {
			return err
		}
	}

	renderSummary(out, sum)
	return nil
}

func renderSummary(w io.Writer, sum pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Rows", "Inserted", "Dates"})
	var rows, inserted int64
	for _, ts := range sum.Tables {
		t.AppendRow(table.Row{ts.Table, ts.Rows, ts.Inserted, ts.Dates})
		rows += int64(ts.Rows)
		inserted += ts.Inserted
	}
	t.AppendFooter(table.Row{"Total", rows, inserted, sum.Dimension.Cached + sum.Dimension.Resolved})
	t.Render()
	fmt.Fprintf(w, "run %s: %d statements, %d dates resolved, %d cached\n",
		sum.RunID, sum.Statements, sum.Dimension.Resolved, sum.Dimension.Cached)
}

// newMetrics picks the configured backend. A backend that fails to start is
// logged and replaced by metrics.Nop; metrics never fail a load.
func (a *app) newMetrics(ctx context.Context, runID string) metrics.Backend {
	mc := a.cfg.Metrics
	switch strings.ToLower(mc.Backend) {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    mc.Job,
			Tags:       append(datadog.ParseTagsCSV(mc.Tags), "run_id:"+runID),
			FlushEvery: mc.FlushEvery,
		})
		if err != nil {
			a.log.Warn("metrics: datadog disabled", "err", err)
			return metrics.Nop{}
		}
		a.log.Info("metrics: datadog", "job", mc.Job, "flush_every", mc.FlushEvery)
		return b
	case "pushgateway":
		b, err := prompush.NewBackend(prompush.Options{
			URL:      mc.PushgatewayURL,
			Job:      mc.Job,
			Grouping: map[string]string{"run_id": runID},
		})
		if err != nil {
			a.log.Warn("metrics: pushgateway disabled", "err", err)
			return metrics.Nop{}
		}
		a.log.Info("metrics: pushgateway", "url", mc.PushgatewayURL, "job", mc.Job)
		return b
	default:
		return metrics.Nop{}
	}
}
