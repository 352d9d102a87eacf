// Package normalize converts heterogeneous spreadsheet cell values into
// canonical Go values: civil dates, exact decimals, integers and trimmed text.
//
// Every function here is total. A value that cannot be understood yields
// ok == false ("unparsed"), which callers store as SQL NULL; none of them
// return errors.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// Blank reports whether v counts as an empty cell: nil, or text that is
// empty after trimming whitespace.
func Blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []byte:
		return strings.TrimSpace(string(x)) == ""
	default:
		return false
	}
}

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// Integer parses v as a whole number.
//
// Integral decimal text such as "12.0" is accepted because spreadsheet
// exports commonly render integer ids that way. Fractions and values outside
// the int64 range are unparsed.
func Integer(v any) (int64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint32:
		return int64(x), true
	case float32:
		return Integer(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, false
		}
		if x > math.MaxInt64 || x < math.MinInt64 {
			return 0, false
		}
		return int64(x), true
	case decimal.Decimal:
		return integerFromDecimal(x)
	case json.Number:
		return integerFromText(string(x))
	case []byte:
		return integerFromText(string(x))
	case string:
		return integerFromText(x)
	default:
		return integerFromText(fmt.Sprint(x))
	}
}

func integerFromText(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return integerFromDecimal(d)
}

func integerFromDecimal(d decimal.Decimal) (int64, bool) {
	if !d.IsInteger() || d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return 0, false
	}
	return d.IntPart(), true
}

// Text returns the trimmed string form of v. Empty results are unparsed so
// blank cells load as NULL rather than as empty strings.
func Text(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case []byte:
		s = string(x)
	case decimal.Decimal:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		s = x.Format(time.RFC3339)
	case civil.Date:
		s = x.String()
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}
