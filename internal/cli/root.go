// Package cli is the sheetetl command line: load a workbook into a database,
// print its DDL or inspect what was inferred.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"sheetetl/internal/config"
	"sheetetl/internal/ddl"
	"sheetetl/internal/extract"
	"sheetetl/internal/logging"
	"sheetetl/internal/pipeline"
	"sheetetl/internal/schema"

	// every storage backend is selectable through storage.kind
	_ "sheetetl/internal/storage/all"
)

// Version is set at build time.
var Version = "dev"

// app is what PersistentPreRunE hands to subcommands.
type app struct {
	cfgFile string
	envFile string

	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd builds the command tree. Logs go to stderr, reports to stdout.
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:   "sheetetl",
		Short: "Infer a relational schema from a workbook and load it",
		Long: `sheetetl reads every "schema.table" sheet of a workbook, infers column
types, creates the schemas and tables (plus a shared date dimension) and loads
the rows.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return a.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./sheetetl.yaml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	pf.String("storage", "", "storage backend: postgres, sqlserver, sqlite or memory")
	pf.String("dsn", "", "database connection string")
	pf.Int("batch-size", 0, "rows per INSERT statement")
	pf.String("source-kind", "", "xlsx, csv or html (default: from the path)")
	pf.Int("header-row", 0, "1-based header row")
	pf.String("overview-sheet", "", "sheet never loaded")
	pf.String("encoding", "", "csv encoding, e.g. windows-1252")
	pf.String("delimiter", "", "csv delimiter")
	pf.Int("sample-size", 0, "rows sampled per column (0: all)")
	pf.String("date-order", "", "mdy or dmy for ambiguous dates")
	pf.String("ddl-dir", "", "also write DDL files to this directory")
	pf.String("metadata", "", "also write the metadata file (.json or .yaml)")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")
	pf.String("metrics", "", "metrics backend: none, datadog or pushgateway")

	root.AddCommand(a.newLoadCmd(), a.newDDLCmd(), a.newInspectCmd())
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{
		File:    a.cfgFile,
		EnvFile: a.envFile,
		Flags:   cmd.Flags(),
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	log, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// sourcePath prefers the positional argument over source.path.
func (a *app) sourcePath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if a.cfg.Source.Path != "" {
		return a.cfg.Source.Path, nil
	}
	return "", errors.New("no workbook given (argument or source.path)")
}

func (a *app) readSheets(ctx context.Context, args []string) ([]schema.Sheet, error) {
	path, err := a.sourcePath(args)
	if err != nil {
		return nil, err
	}
	src := a.cfg.Source
	delim, _ := utf8.DecodeRuneInString(src.Delimiter)
	sheets, err := extract.Open(ctx, path, extract.Options{
		Kind:          src.Kind,
		HeaderRow:     src.HeaderRow,
		OverviewSheet: src.OverviewSheet,
		Encoding:      src.Encoding,
		Delimiter:     delim,
		Logger:        a.log,
	})
	if err != nil {
		return nil, err
	}
	a.log.Info("stage=extract ok", "source", path, "sheets", len(sheets))
	return sheets, nil
}

// writeArtifacts writes the optional metadata and DDL files.
func (a *app) writeArtifacts(specs []schema.TableSpec, stmts []ddl.Statement) error {
	if p := a.cfg.Output.Metadata; p != "" {
		if err := pipeline.WriteMetadata(p, specs); err != nil {
			return err
		}
		a.log.Info("metadata written", "path", p)
	}
	if dir := a.cfg.Output.DDLDir; dir != "" {
		paths, err := pipeline.WriteDDLFiles(dir, stmts)
		if err != nil {
			return err
		}
		a.log.Info("ddl files written", "dir", dir, "files", len(paths))
	}
	return nil
}

// Execute runs the CLI and returns the process exit code. The error, if any,
// is logged once on stderr, through the configured logger when setup got that
// far.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, a := newRoot()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		log := a.log
		if log == nil {
			log, _ = logging.New(stderr, "info", "text")
		}
		log.Error("sheetetl failed", "err", err)
		return 1
	}
	return 0
}

// Main is Execute with the process's streams.
func Main(ctx context.Context) int {
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
