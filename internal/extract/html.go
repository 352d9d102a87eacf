package extract

import (
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sheetetl/internal/schema"
)

// readHTML reads the first table of a published sheet page. Google's export
// adds a row of column letters in <thead>, a row-number <th> per row and
// "freezebar" spacer cells; none of them are data.
func readHTML(path string, _ Options) (grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}
	table := doc.Find("table").First()
	rows := table.Find("tbody > tr")
	if rows.Length() == 0 {
		rows = table.Find("tr")
	}

	var g grid
	rows.Each(func(_ int, tr *goquery.Selection) {
		var cells []schema.RawCell
		data := false
		tr.Children().Each(func(_ int, c *goquery.Selection) {
			if c.HasClass("row-headers-background") || c.HasClass("freezebar-vertical-handle") || c.HasClass("freezebar-cell") {
				return
			}
			data = true
			v := textCell(strings.TrimSpace(c.Text()))
			span, _ := strconv.Atoi(c.AttrOr("colspan", "1"))
			cells = append(cells, v)
			for i := 1; i < span; i++ {
				cells = append(cells, schema.RawCell{})
			}
		})
		if data {
			g = append(g, cells)
		}
	})
	return g, nil
}
