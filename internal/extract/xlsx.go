package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"sheetetl/internal/schema"
)

func readXLSX(ctx context.Context, path string, opts Options) ([]schema.Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &Error{Source: path, Err: err}
	}
	defer f.Close()

	var out []schema.Sheet
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		schemaName, table, ok := Qualify(name, opts.OverviewSheet)
		if !ok {
			opts.Logger.Debug("sheet skipped", "source", path, "sheet", name)
			continue
		}
		g, err := xlsxGrid(f, name)
		if err != nil {
			return nil, &Error{Source: path, Sheet: name, Err: err}
		}
		sh, ok := toSheet(name, schemaName, table, g, opts.HeaderRow)
		if !ok {
			opts.Logger.Warn("sheet has no header row", "source", path, "sheet", name, "header_row", opts.HeaderRow)
			continue
		}
		out = append(out, sh)
	}
	return out, nil
}

// xlsxGrid reads raw (unformatted) values so dates arrive as serials and
// numbers keep full precision. Cells carrying a formula are tagged as such,
// with the cached result as their value.
func xlsxGrid(f *excelize.File, sheet string) (grid, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	g := make(grid, len(rows))
	for i, r := range rows {
		cells := make([]schema.RawCell, 0, len(r))
		for j := 0; j < width; j++ {
			var v string
			if j < len(r) {
				v = r[j]
			}
			axis, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			formula, err := f.GetCellFormula(sheet, axis)
			if err != nil {
				return nil, fmt.Errorf("formula %s: %w", axis, err)
			}
			switch {
			case formula != "":
				var cached any
				if v != "" {
					cached = v
				}
				if !strings.HasPrefix(formula, "=") {
					formula = "=" + formula
				}
				cells = append(cells, schema.Formula(formula, cached))
			case j < len(r):
				cells = append(cells, textCell(v))
			default:
				cells = append(cells, schema.RawCell{})
			}
		}
		for len(cells) > 0 && cells[len(cells)-1] == (schema.RawCell{}) {
			cells = cells[:len(cells)-1]
		}
		g[i] = cells
	}
	return g, nil
}
