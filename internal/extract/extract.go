// Package extract reads a workbook into schema.Sheets: the qualifying
// "schema.table" sheets with their header row and raw data rows.
//
// Three sources are understood: an .xlsx/.xlsm workbook, a directory (or
// single file) of "schema.table.csv" exports and a directory of
// "schema.table.html" pages as produced by the Google Sheets web export.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"sheetetl/internal/schema"
)

var sheetNameRe = regexp.MustCompile(`^([A-Za-z0-9_]+)\.([A-Za-z0-9_]+)$`)

// DefaultOverviewSheet is never loaded.
const DefaultOverviewSheet = "public.overview"

type Options struct {
	Kind          string // xlsx, csv or html; empty infers from path
	HeaderRow     int    // 1-based; zero means 1
	OverviewSheet string // zero means DefaultOverviewSheet
	Encoding      string // csv only: utf-8, windows-1252, latin1
	Delimiter     rune   // csv only; zero means ','
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HeaderRow < 1 {
		o.HeaderRow = 1
	}
	if o.OverviewSheet == "" {
		o.OverviewSheet = DefaultOverviewSheet
	}
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Error is an extraction failure tied to a source and, when known, a sheet.
type Error struct {
	Source string
	Sheet  string
	Err    error
}

func (e *Error) Error() string {
	if e.Sheet == "" {
		return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("extract %s sheet %q: %v", e.Source, e.Sheet, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Qualify splits a sheet name into schema and table. It reports false for
// names that are not "schema.table" and for the overview sheet (compared
// case-insensitively).
func Qualify(name, overview string) (schemaName, table string, ok bool) {
	name = strings.TrimSpace(name)
	fold := cases.Fold()
	if fold.String(name) == fold.String(overview) {
		return "", "", false
	}
	m := sheetNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Open reads every qualifying sheet of path in workbook order (sorted file
// names for directories).
func Open(ctx context.Context, path string, opts Options) ([]schema.Sheet, error) {
	opts = opts.withDefaults()
	kind, err := detectKind(path, opts.Kind)
	if err != nil {
		return nil, &Error{Source: path, Err: err}
	}
	switch kind {
	case "xlsx":
		return readXLSX(ctx, path, opts)
	case "csv":
		return readFiles(ctx, path, []string{".csv"}, opts, readCSV)
	case "html":
		return readFiles(ctx, path, []string{".html", ".htm"}, opts, readHTML)
	default:
		return nil, &Error{Source: path, Err: fmt.Errorf("unsupported source kind %q", kind)}
	}
}

func detectKind(path, kind string) (string, error) {
	if kind != "" {
		return strings.ToLower(kind), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".xlsx", ".xlsm":
			return "xlsx", nil
		case ".csv":
			return "csv", nil
		case ".html", ".htm":
			return "html", nil
		}
		return "", fmt.Errorf("cannot infer source kind from %s", filepath.Base(path))
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			return "csv", nil
		}
	}
	return "html", nil
}

// grid is one sheet's cells before the header row is split off.
type grid [][]schema.RawCell

// toSheet splits g at the header row. ok is false when the sheet has no
// header cells at all.
func toSheet(name, schemaName, table string, g grid, headerRow int) (schema.Sheet, bool) {
	if headerRow > len(g) {
		return schema.Sheet{}, false
	}
	hdr := g[headerRow-1]
	for len(hdr) > 0 && hdr[len(hdr)-1].IsBlank() {
		hdr = hdr[:len(hdr)-1]
	}
	if len(hdr) == 0 {
		return schema.Sheet{}, false
	}
	headers := make([]string, len(hdr))
	for i, c := range hdr {
		headers[i] = strings.TrimSpace(cellText(c.Value))
	}
	return schema.Sheet{
		Name:    name,
		Schema:  schemaName,
		Table:   table,
		Headers: headers,
		Rows:    g[headerRow:],
	}, true
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// textCell turns exported text into a cell. Text exports keep formulas as
// their source ("=SUM(A1:A3)") with no cached value.
func textCell(s string) schema.RawCell {
	if strings.HasPrefix(s, "=") && len(s) > 1 {
		return schema.Formula(s, nil)
	}
	return schema.Literal(s)
}
