package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts a natural key value to a canonical string form
// suitable for in-memory dedupe sets (e.g. "17" for both int64(17) and "17").
//
// Whole floats render as integers so an Excel cell "17" read as 17.0 matches.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		if n, ok := ParseInt(s); ok {
			return strconv.FormatInt(n, 10)
		}
		return s
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []byte:
		return NormalizeKey(string(t))
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
