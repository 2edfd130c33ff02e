// Package normalize turns raw message documents from either legacy
// collection into the canonical models.Message shape.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// secondsCutoff separates second-resolution from millisecond-resolution
// numeric timestamps. 1e11 seconds is in the year 5138; 1e11 ms is 1973.
const secondsCutoff = 1e11

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Millis coerces a stored timestamp into unix milliseconds.
// It accepts server timestamp objects ({seconds, nanoseconds} or the
// underscored variants), numbers in seconds or milliseconds, numeric
// strings and date strings. Anything else yields 0.
func Millis(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case time.Time:
		if t.IsZero() {
			return 0
		}
		return t.UnixMilli()
	case *time.Time:
		if t == nil {
			return 0
		}
		return Millis(*t)
	case map[string]any:
		return fromTimestampObject(t)
	case float64:
		return fromNumber(t)
	case float32:
		return fromNumber(float64(t))
	case int:
		return fromNumber(float64(t))
	case int32:
		return fromNumber(float64(t))
	case int64:
		return fromNumber(float64(t))
	case uint32:
		return fromNumber(float64(t))
	case uint64:
		return fromNumber(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return fromNumber(f)
	case string:
		return fromString(t)
	}
	return 0
}

func fromTimestampObject(m map[string]any) int64 {
	secs, ok := m["seconds"]
	if !ok {
		secs, ok = m["_seconds"]
	}
	if !ok {
		return 0
	}
	s, ok := number(secs)
	if !ok || s <= 0 {
		return 0
	}
	ns, _ := number(m["nanoseconds"])
	if ns == 0 {
		ns, _ = number(m["_nanoseconds"])
	}
	return int64(s)*1000 + int64(ns)/int64(time.Millisecond)
}

func fromNumber(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f < secondsCutoff {
		return int64(math.Round(f * 1000))
	}
	return int64(math.Round(f))
}

func fromString(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
