package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sheetetl/internal/pipeline"
	"sheetetl/internal/schema"
)

func (a *app) newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [workbook]",
		Short: "Show the inferred type of every column",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sheets, err := a.readSheets(cmd.Context(), args)
			if err != nil {
				return err
			}
			d, err := dialectFor("", a.cfg)
			if err != nil {
				return err
			}
			specs, _, err := pipeline.Plan(sheets, a.cfg.DimensionSpec(), a.cfg.Inferencer(), d)
			if err != nil {
				return err
			}
			renderInspect(cmd.OutOrStdout(), specs)
			return nil
		},
	}
}

func renderInspect(w io.Writer, specs []schema.TableSpec) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Column", "Source", "Semantic", "SQL type", "Nullable", "Derived"})
	columns := 0
	for _, s := range specs {
		for _, c := range s.Columns {
			name := c.Name
			if c.PrimaryKey {
				name += " (pk)"
			}
			derived := ""
			if c.IsDerived {
				derived = c.FormulaExample
				if derived == "" {
					derived = "yes"
				}
			}
			t.AppendRow(table.Row{s.QualifiedName(), name, c.Source, c.SemanticType, c.SQLType, c.Nullable, derived})
			columns++
		}
		t.AppendSeparator()
	}
	t.Render()
	fmt.Fprintf(w, "(%d tables, %d columns)\n", len(specs), columns)
}
