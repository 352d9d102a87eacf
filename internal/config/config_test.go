package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetetl/internal/schema"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(LoadOptions{EnvFile: noEnvFile(t)})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Storage.Kind)
	assert.Equal(t, 1000, cfg.Storage.BatchSize)
	assert.Equal(t, 1, cfg.Source.HeaderRow)
	assert.Equal(t, "public.overview", cfg.Source.OverviewSheet)
	assert.Equal(t, schema.DefaultDimension(), cfg.DimensionSpec())
	assert.Equal(t, 60*time.Second, cfg.Metrics.FlushEvery)

	in := cfg.Inferencer()
	assert.Equal(t, 0.7, in.NumericThreshold)
	assert.Equal(t, "NUMERIC(18,2)", in.NumericType.String())
	assert.False(t, cfg.DateOptions().DayFirst)
	assert.True(t, cfg.DateOptions().ExcelSerials)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "cfg.yaml", `
storage:
  kind: sqlite
  dsn: ${SHEETETL_TEST_DB}
  batch_size: 50
inference:
  date_order: dmy
  numeric_precision: 20
  numeric_scale: 4
log:
  level: debug
`)
	t.Setenv("SHEETETL_TEST_DB", "/tmp/ledger.db")
	t.Setenv("SHEETETL_STORAGE__BATCH_SIZE", "75")
	t.Setenv("SHEETETL_LOG__LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("metadata", "", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--log-level=error", "--verbose"}))

	cfg, err := Load(LoadOptions{File: file, EnvFile: noEnvFile(t), Flags: flags})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Storage.Kind, "file over default")
	assert.Equal(t, "/tmp/ledger.db", cfg.Storage.DSN, "dsn is env-expanded")
	assert.Equal(t, 75, cfg.Storage.BatchSize, "env over file")
	assert.Equal(t, "error", cfg.Log.Level, "flag over env")
	assert.Equal(t, "", cfg.Output.Metadata, "unset flags do not apply")
	assert.True(t, cfg.DateOptions().DayFirst)
	assert.Equal(t, "NUMERIC(20,4)", cfg.Inferencer().NumericType.String())
	assert.Equal(t, 75, cfg.StorageConfig().BatchSize)
}

func TestLoad_DefaultFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, "sheetetl.yaml", "storage:\n  kind: memory\n")
	envFile := writeFile(t, dir, "local.env", "SHEETETL_OUTPUT__DDL_DIR=out/ddl\n")
	t.Cleanup(func() { _ = os.Unsetenv("SHEETETL_OUTPUT__DDL_DIR") })

	cfg, err := Load(LoadOptions{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Kind)
	assert.Equal(t, "out/ddl", cfg.Output.DDLDir)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "nope.yaml"), EnvFile: noEnvFile(t)})
	require.Error(t, err)

	bad := writeFile(t, t.TempDir(), "bad.yaml", "storage: [unclosed\n")
	_, err = Load(LoadOptions{File: bad, EnvFile: noEnvFile(t)})
	require.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg, err := Load(LoadOptions{EnvFile: noEnvFile(t)})
	require.NoError(t, err)

	cfg.Storage.Kind = ""
	cfg.Storage.BatchSize = 0
	cfg.Inference.NumericThreshold = 1.5
	cfg.Inference.DateOrder = "ymd"
	cfg.Metrics.Backend = "pushgateway"
	cfg.Dimension.Table = " "

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"storage.kind is required",
		"storage.batch_size",
		"inference.numeric_threshold",
		"inference.date_order",
		"metrics.pushgateway_url",
		"dimension.table is required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
