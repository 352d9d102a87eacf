package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"sheetetl/internal/schema"
)

// decoderFor resolves a WHATWG encoding label ("utf-8", "windows-1252",
// "latin1", ...). A leading BOM always wins.
func decoderFor(label string) (transform.Transformer, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "utf-8"
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
}

func readCSV(path string, opts Options) (grid, error) {
	dec, err := decoderFor(opts.Encoding)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(transform.NewReader(f, dec))
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var g grid
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		cells := make([]schema.RawCell, len(rec))
		for i, v := range rec {
			cells[i] = textCell(v)
		}
		g = append(g, cells)
	}
	return g, nil
}
