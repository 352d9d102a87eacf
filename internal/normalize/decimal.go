package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Decimal parses locale-formatted number or currency text into an exact
// decimal.
//
// Rules, applied after stripping currency symbols and whitespace:
//   - exactly one comma and at least one period: periods are thousands
//     separators and the comma is the decimal point ("12.345,67 €").
//   - exactly one comma and no period: the comma is the decimal point ("12,50").
//   - several commas and at most one period: commas are thousands separators
//     ("1,234,567.89").
//
// Values that are already numeric are converted from their exact textual form,
// never through a float round-trip.
func Decimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return x, true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case float32:
		return decimalFromFloat(strconv.FormatFloat(float64(x), 'f', -1, 32), float64(x))
	case float64:
		return decimalFromFloat(strconv.FormatFloat(x, 'f', -1, 64), x)
	case json.Number:
		return decimalFromText(string(x))
	case []byte:
		return decimalFromText(string(x))
	case string:
		return decimalFromText(x)
	default:
		return decimalFromText(fmt.Sprint(x))
	}
}

func decimalFromFloat(text string, f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func decimalFromText(s string) (decimal.Decimal, bool) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			continue
		}
		b.WriteRune(r)
	}
	t := b.String()
	if t == "" {
		return decimal.Decimal{}, false
	}

	commas := strings.Count(t, ",")
	periods := strings.Count(t, ".")
	switch {
	case commas == 1 && periods >= 1:
		t = strings.ReplaceAll(t, ".", "")
		t = strings.Replace(t, ",", ".", 1)
	case commas == 1:
		t = strings.Replace(t, ",", ".", 1)
	case commas > 1 && periods <= 1:
		t = strings.ReplaceAll(t, ",", "")
	}

	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
