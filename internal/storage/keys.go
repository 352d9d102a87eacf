package storage

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-sql/civil"

	"sheetetl/internal/normalize"
)

// DateKey converts a scanned dimension date to civil.Date.
//
// Drivers disagree on what a DATE column scans into: pgx and go-mssqldb
// return time.Time, SQLite returns the stored text (or time.Time for some
// declared types). Text is read from its leading YYYY-MM-DD.
func DateKey(v any) (civil.Date, bool) {
	switch t := v.(type) {
	case nil:
		return civil.Date{}, false
	case civil.Date:
		return t, t.IsValid()
	case time.Time:
		return civil.DateOf(t), !t.IsZero()
	case []byte:
		return dateKeyText(string(t))
	case string:
		return dateKeyText(t)
	default:
		return civil.Date{}, false
	}
}

func dateKeyText(s string) (civil.Date, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return civil.Date{}, false
	}
	d, err := civil.ParseDate(s[:10])
	if err != nil {
		return civil.Date{}, false
	}
	return d, true
}

// UniqueDates returns the valid dates of in, deduplicated and sorted so that
// backends insert in a deterministic order.
func UniqueDates(in []civil.Date) []civil.Date {
	out := make([]civil.Date, 0, len(in))
	seen := make(map[civil.Date]struct{}, len(in))
	for _, d := range in {
		if !d.IsValid() {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	slices.SortFunc(out, normalize.CompareDates)
	return out
}

// Chunks splits n items into [start, end) windows of at most size.
func Chunks(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// SplitQualifiedName splits "schema.table". A bare name yields an empty schema.
func SplitQualifiedName(name string) (schemaName string, table string) {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
