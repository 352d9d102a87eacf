package normalize

import (
	"cmp"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var (
	monthYearRe = regexp.MustCompile(`^\s*(\d{1,2})\D+(\d{4})\s*$`)
	yearMonthRe = regexp.MustCompile(`^\s*(\d{4})[-/](\d{1,2})\s*$`)
	isoDayRe    = regexp.MustCompile(`^\s*(\d{4})-(\d{1,2})-(\d{1,2})\s*$`)
	serialRe    = regexp.MustCompile(`^\s*\d{5,7}(\.\d+)?\s*$`)
)

// Excel stores dates as days since 1899-12-30; anything past 9999-12-31 is
// not a date.
const maxExcelSerial = 2958465

// DateOptions tunes the permissive fallback of the date normalizer.
type DateOptions struct {
	// DayFirst resolves ambiguous "01/02/2023" as 1 February instead of
	// January 2. Month-first is the default.
	DayFirst bool

	// ExcelSerials accepts numeric text of five or more digits as an Excel
	// serial date. Raw xlsx values of date-formatted cells arrive this way.
	ExcelSerials bool
}

// Date normalizes v with default options.
func Date(v any) (civil.Date, bool) {
	return DateOptions{}.Parse(v)
}

// Parse normalizes v into a canonical calendar date.
//
// Order:
//  1. empty, "nan" and "none" are unparsed;
//  2. strict "<month><sep><year>" resolves to the first of that month, and a
//     month outside 1..12 is unparsed without trying anything else;
//  3. "YYYY-MM" resolves to the first of the month, "YYYY-MM-DD" to that day;
//  4. Excel serials when enabled;
//  5. the permissive parser (exact day).
func (o DateOptions) Parse(v any) (civil.Date, bool) {
	switch x := v.(type) {
	case nil:
		return civil.Date{}, false
	case civil.Date:
		return x, x.IsValid()
	case time.Time:
		if x.IsZero() {
			return civil.Date{}, false
		}
		return civil.DateOf(x), true
	case int:
		return fromSerial(float64(x))
	case int64:
		return fromSerial(float64(x))
	case float64:
		return fromSerial(x)
	case decimal.Decimal:
		f, _ := x.Float64()
		return fromSerial(f)
	case json.Number:
		return o.parseText(string(x))
	case []byte:
		return o.parseText(string(x))
	case string:
		return o.parseText(x)
	default:
		return civil.Date{}, false
	}
}

func (o DateOptions) parseText(s string) (civil.Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "none") {
		return civil.Date{}, false
	}

	if m := monthYearRe.FindStringSubmatch(s); m != nil {
		return firstOfMonth(m[2], m[1])
	}
	if m := yearMonthRe.FindStringSubmatch(s); m != nil {
		return firstOfMonth(m[1], m[2])
	}
	if m := isoDayRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		out := civil.Date{Year: y, Month: time.Month(mo), Day: d}
		return out, out.IsValid()
	}
	if o.ExcelSerials && serialRe.MatchString(s) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return fromSerial(f)
		}
	}

	t, err := dateparse.ParseIn(s, time.UTC, dateparse.PreferMonthFirst(!o.DayFirst))
	if err != nil {
		return civil.Date{}, false
	}
	return civil.DateOf(t), true
}

func firstOfMonth(year, month string) (civil.Date, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return civil.Date{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return civil.Date{}, false
	}
	return civil.Date{Year: y, Month: time.Month(m), Day: 1}, true
}

func fromSerial(f float64) (civil.Date, bool) {
	if f < 1 || f > maxExcelSerial {
		return civil.Date{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return civil.Date{}, false
	}
	return civil.DateOf(t), true
}

// CompareDates orders dates chronologically, for use with slices.SortFunc.
func CompareDates(a, b civil.Date) int {
	if c := cmp.Compare(a.Year, b.Year); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Month, b.Month); c != 0 {
		return c
	}
	return cmp.Compare(a.Day, b.Day)
}
