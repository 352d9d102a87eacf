package extract

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sheetetl/internal/schema"
)

type fileReader func(path string, opts Options) (grid, error)

// readFiles treats every "<schema>.<table><ext>" file as one sheet. path may
// also name a single such file.
func readFiles(ctx context.Context, path string, exts []string, opts Options, read fileReader) ([]schema.Sheet, error) {
	files, err := listFiles(path, exts)
	if err != nil {
		return nil, &Error{Source: path, Err: err}
	}

	var out []schema.Sheet
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := filepath.Base(file)
		name := base[:len(base)-len(filepath.Ext(base))]
		schemaName, table, ok := Qualify(name, opts.OverviewSheet)
		if !ok {
			opts.Logger.Debug("file skipped", "source", file)
			continue
		}
		g, err := read(file, opts)
		if err != nil {
			return nil, &Error{Source: file, Sheet: name, Err: err}
		}
		sh, ok := toSheet(name, schemaName, table, g, opts.HeaderRow)
		if !ok {
			opts.Logger.Warn("sheet has no header row", "source", file, "sheet", name, "header_row", opts.HeaderRow)
			continue
		}
		out = append(out, sh)
	}
	return out, nil
}

func hasExt(name string, exts []string) bool {
	for _, x := range exts {
		if strings.EqualFold(filepath.Ext(name), x) {
			return true
		}
	}
	return false
}

func listFiles(path string, exts []string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		out = append(out, filepath.Join(path, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
