// Package config loads sheetetl settings. Precedence, highest first:
// command-line flags, SHEETETL_* environment variables, the YAML file,
// defaults. A .env file, if present, seeds the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"sheetetl/internal/normalize"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
)

const EnvPrefix = "SHEETETL_"

// DefaultFiles are tried in order when no file is given.
var DefaultFiles = []string{"sheetetl.yaml", "sheetetl.yml"}

type Config struct {
	Source    Source    `koanf:"source"`
	Storage   Storage   `koanf:"storage"`
	Dimension Dimension `koanf:"dimension"`
	Inference Inference `koanf:"inference"`
	Output    Output    `koanf:"output"`
	Log       Log       `koanf:"log"`
	Metrics   Metrics   `koanf:"metrics"`
}

type Source struct {
	Path          string `koanf:"path"`
	Kind          string `koanf:"kind"` // xlsx, csv, html; empty infers from path
	HeaderRow     int    `koanf:"header_row"`
	OverviewSheet string `koanf:"overview_sheet"`
	Encoding      string `koanf:"encoding"`
	Delimiter     string `koanf:"delimiter"`
}

type Storage struct {
	Kind      string `koanf:"kind"`
	DSN       string `koanf:"dsn"`
	BatchSize int    `koanf:"batch_size"`
}

type Dimension struct {
	Schema     string `koanf:"schema"`
	Table      string `koanf:"table"`
	KeyColumn  string `koanf:"key_column"`
	DateColumn string `koanf:"date_column"`
	Prewarm    bool   `koanf:"prewarm"` // load every existing key before the first table
}

type Inference struct {
	NumericThreshold float64 `koanf:"numeric_threshold"`
	NumericPrecision int     `koanf:"numeric_precision"`
	NumericScale     int     `koanf:"numeric_scale"`
	VarcharMin       int     `koanf:"varchar_min"`
	VarcharMax       int     `koanf:"varchar_max"`
	SampleSize       int     `koanf:"sample_size"`
	DateOrder        string  `koanf:"date_order"` // mdy or dmy
	ExcelSerials     bool    `koanf:"excel_serials"`
}

type Output struct {
	DDLDir   string `koanf:"ddl_dir"`
	Metadata string `koanf:"metadata"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Metrics struct {
	Backend        string        `koanf:"backend"` // none, datadog, pushgateway
	Job            string        `koanf:"job"`
	Tags           string        `koanf:"tags"`
	PushgatewayURL string        `koanf:"pushgateway_url"`
	FlushEvery     time.Duration `koanf:"flush_every"`
}

func defaults() map[string]any {
	dim := schema.DefaultDimension()
	in := schema.DefaultInferencer()
	return map[string]any{
		"source.header_row":           1,
		"source.overview_sheet":       "public.overview",
		"source.encoding":             "utf-8",
		"source.delimiter":            ",",
		"storage.kind":                "postgres",
		"storage.batch_size":          storage.DefaultBatchSize,
		"dimension.schema":            dim.Schema,
		"dimension.table":             dim.Table,
		"dimension.key_column":        dim.KeyColumn,
		"dimension.date_column":       dim.DateColumn,
		"dimension.prewarm":           false,
		"inference.numeric_threshold": in.NumericThreshold,
		"inference.numeric_precision": 18,
		"inference.numeric_scale":     2,
		"inference.varchar_min":       in.MinVarchar,
		"inference.varchar_max":       in.MaxVarchar,
		"inference.sample_size":       in.SampleSize,
		"inference.date_order":        "mdy",
		"inference.excel_serials":     true,
		"log.level":                   "info",
		"log.format":                  "text",
		"metrics.backend":             "none",
		"metrics.job":                 "sheetetl",
		"metrics.flush_every":         "60s",
	}
}

// flagKeys maps CLI flag names to config keys. Flags not listed are not
// configuration.
var flagKeys = map[string]string{
	"storage":        "storage.kind",
	"dsn":            "storage.dsn",
	"batch-size":     "storage.batch_size",
	"source-kind":    "source.kind",
	"header-row":     "source.header_row",
	"overview-sheet": "source.overview_sheet",
	"encoding":       "source.encoding",
	"delimiter":      "source.delimiter",
	"sample-size":    "inference.sample_size",
	"date-order":     "inference.date_order",
	"ddl-dir":        "output.ddl_dir",
	"metadata":       "output.metadata",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"metrics":        "metrics.backend",
}

type LoadOptions struct {
	File    string         // explicit YAML file; must exist when set
	EnvFile string         // defaults to ".env"; a missing file is fine
	Flags   *pflag.FlagSet // only flags that were set are applied
}

// Load builds a Config. It does not validate; call Validate.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path := findFile(opts.File); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if opts.File != "" {
		return nil, fmt.Errorf("config: file %s not found", opts.File)
	}

	// SHEETETL_STORAGE__DSN -> storage.dsn
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if opts.Flags != nil {
		err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Storage.Kind) == "" {
		add("storage.kind is required")
	}
	if c.Storage.BatchSize < 1 {
		add("storage.batch_size must be >= 1, got %d", c.Storage.BatchSize)
	}
	if c.Source.HeaderRow < 1 {
		add("source.header_row must be >= 1, got %d", c.Source.HeaderRow)
	}
	switch strings.ToLower(c.Source.Kind) {
	case "", "xlsx", "csv", "html":
	default:
		add("source.kind must be xlsx, csv or html, got %q", c.Source.Kind)
	}
	if len([]rune(c.Source.Delimiter)) != 1 {
		add("source.delimiter must be one character, got %q", c.Source.Delimiter)
	}
	for name, v := range map[string]string{
		"dimension.schema":      c.Dimension.Schema,
		"dimension.table":       c.Dimension.Table,
		"dimension.key_column":  c.Dimension.KeyColumn,
		"dimension.date_column": c.Dimension.DateColumn,
	} {
		if strings.TrimSpace(v) == "" {
			add("%s is required", name)
		}
	}

	in := c.Inference
	if in.NumericThreshold <= 0 || in.NumericThreshold > 1 {
		add("inference.numeric_threshold must be in (0, 1], got %v", in.NumericThreshold)
	}
	if in.NumericPrecision < 1 || in.NumericScale < 0 || in.NumericScale > in.NumericPrecision {
		add("inference.numeric_precision/scale invalid: (%d,%d)", in.NumericPrecision, in.NumericScale)
	}
	if in.VarcharMin < 1 || in.VarcharMax < in.VarcharMin {
		add("inference.varchar_min/max invalid: %d..%d", in.VarcharMin, in.VarcharMax)
	}
	if in.SampleSize < 0 {
		add("inference.sample_size must be >= 0, got %d", in.SampleSize)
	}
	switch strings.ToLower(in.DateOrder) {
	case "mdy", "dmy":
	default:
		add("inference.date_order must be mdy or dmy, got %q", in.DateOrder)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	switch strings.ToLower(c.Metrics.Backend) {
	case "", "none", "datadog":
	case "pushgateway":
		if strings.TrimSpace(c.Metrics.PushgatewayURL) == "" {
			add("metrics.pushgateway_url is required for metrics.backend=pushgateway")
		}
	default:
		add("metrics.backend must be none, datadog or pushgateway, got %q", c.Metrics.Backend)
	}
	return errors.Join(errs...)
}

func (c *Config) DimensionSpec() schema.DimensionSpec {
	return schema.DimensionSpec{
		Schema:     c.Dimension.Schema,
		Table:      c.Dimension.Table,
		KeyColumn:  c.Dimension.KeyColumn,
		DateColumn: c.Dimension.DateColumn,
	}
}

func (c *Config) Inferencer() schema.Inferencer {
	return schema.Inferencer{
		NumericThreshold: c.Inference.NumericThreshold,
		MinVarchar:       c.Inference.VarcharMin,
		MaxVarchar:       c.Inference.VarcharMax,
		SampleSize:       c.Inference.SampleSize,
		NumericType:      schema.NumericType(c.Inference.NumericPrecision, c.Inference.NumericScale),
	}
}

func (c *Config) DateOptions() normalize.DateOptions {
	return normalize.DateOptions{
		DayFirst:     strings.EqualFold(c.Inference.DateOrder, "dmy"),
		ExcelSerials: c.Inference.ExcelSerials,
	}
}

func (c *Config) StorageConfig() storage.Config {
	return storage.Config{Kind: c.Storage.Kind, DSN: c.Storage.DSN, BatchSize: c.Storage.BatchSize}
}
