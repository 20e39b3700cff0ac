package table

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// DateLayouts are the date-only layouts tried by ParseTime, in order.
// Slash dates are month first; day-first extracts set runtime.date_layouts.
var DateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"01/02/2006",
	"2006/01/02",
}

// TimestampLayouts are the date-time layouts tried by ParseTime, in order.
var TimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	"02.01.2006 15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02 15:04",
}

// Excel serial day numbers accepted as dates: 1900-01-01 .. 9999-12-31.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// ParseInt parses an integer cell. Whole decimals ("17.0") are accepted since
// spreadsheet exports often render integers that way.
func ParseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatInt(f)
}

// floatInt converts a whole float to int64. math.MaxInt64 rounds up to 2^63
// as a float64, so the upper bound is exclusive.
func floatInt(f float64) (int64, bool) {
	if math.IsNaN(f) || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Int converts a cell to int64.
func Int(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return floatInt(t)
	case decimal.Decimal:
		if !t.IsInteger() {
			return 0, false
		}
		return ParseInt(t.String())
	case string:
		return ParseInt(t)
	case []byte:
		return ParseInt(string(t))
	}
	return 0, false
}

// Decimal converts a cell to an exact decimal. Missing and non-numeric
// cells return false.
func Decimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case int64:
		return decimal.NewFromInt(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case []byte:
		return Decimal(string(t))
	}
	return decimal.Decimal{}, false
}

// Float converts a cell to float64.
func Float(v any) (float64, bool) {
	if f, ok := v.(float64); ok {
		return f, !math.IsNaN(f)
	}
	d, ok := Decimal(v)
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// String renders a cell as text; nil becomes "".
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02")
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return NormalizeKey(v)
}

// ParseTime converts a cell to a timestamp. Strings are tried against extra
// first, then TimestampLayouts and DateLayouts, in local time. Numeric cells
// in the Excel serial range are converted as 1900-system serial dates.
func ParseTime(v any, extra []string) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case float64:
		return excelSerial(t)
	case int64:
		return excelSerial(float64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layouts := range [][]string{extra, TimestampLayouts, DateLayouts} {
			for _, layout := range layouts {
				if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
					return ts, true
				}
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return excelSerial(f)
		}
	}
	return time.Time{}, false
}

func excelSerial(f float64) (time.Time, bool) {
	if math.IsNaN(f) || f < minExcelSerial || f > maxExcelSerial {
		return time.Time{}, false
	}
	ts, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
