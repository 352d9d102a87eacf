package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sheetetl/internal/config"
	"sheetetl/internal/ddl"
	"sheetetl/internal/pipeline"
)

func (a *app) newDDLCmd() *cobra.Command {
	var dialect, out string
	cmd := &cobra.Command{
		Use:   "ddl [workbook]",
		Short: "Print the DDL a workbook would create, without a database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dialectFor(dialect, a.cfg)
			if err != nil {
				return err
			}
			sheets, err := a.readSheets(cmd.Context(), args)
			if err != nil {
				return err
			}
			specs, stmts, err := pipeline.Plan(sheets, a.cfg.DimensionSpec(), a.cfg.Inferencer(), d)
			if err != nil {
				return err
			}
			if out != "" {
				a.cfg.Output.DDLDir = out
			}
			if err := a.writeArtifacts(specs, stmts); err != nil {
				return err
			}
			if out == "" {
				return printDDL(cmd.OutOrStdout(), d, stmts)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "postgres, sqlserver or sqlite (default: storage.kind)")
	cmd.Flags().StringVar(&out, "out", "", "write one file per table to this directory instead of stdout")
	return cmd
}

func printDDL(w io.Writer, d ddl.Dialect, stmts []ddl.Statement) error {
	if _, err := fmt.Fprintf(w, "-- dialect: %s\n", d.Name()); err != nil {
		return err
	}
	_, err := io.WriteString(w, ddl.Render(stmts))
	return err
}

// dialectFor resolves the ddl command's --dialect, defaulting to the
// configured storage kind.
func dialectFor(flag string, cfg *config.Config) (ddl.Dialect, error) {
	if flag == "" {
		flag = cfg.Storage.Kind
	}
	return ddl.DialectFor(flag)
}
