package domain

import (
	"fmt"
	"strconv"
	"time"
)

// FormatValue renders a metadata value as a comparable string.
// Numbers are normalised so that 3, 3.0 and int64(3) compare equal.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []any:
		out := "["
		for i, e := range x {
			if i > 0 {
				out += ","
			}
			out += FormatValue(e)
		}
		return out + "]"
	case []string:
		out := "["
		for i, e := range x {
			if i > 0 {
				out += ","
			}
			out += e
		}
		return out + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ValuesEqual reports whether two metadata values render identically.
func ValuesEqual(a, b any) bool {
	return FormatValue(a) == FormatValue(b)
}

// ParseTimeValue interprets a metadata value as a point in time.
// Accepts time.Time, RFC3339 strings, dates (2006-01-02) and unix seconds.
func ParseTimeValue(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	case int64:
		return time.Unix(x, 0).UTC(), true
	case int:
		return time.Unix(int64(x), 0).UTC(), true
	case float64:
		return time.Unix(int64(x), 0).UTC(), true
	}
	return time.Time{}, false
}
