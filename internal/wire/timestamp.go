package wire

import (
	"strconv"
	"strings"
	"time"
)

// Unix timestamps above this are treated as milliseconds rather than
// seconds. 1e11 seconds is the year 5138, 1e11 milliseconds is 1973.
const millisThreshold = 1e11

// NormalizeTimestamp converts the heterogeneous timestamp representations
// the backends emit (RFC 3339 strings, unix seconds, unix milliseconds,
// numeric strings) into a time.Time. Returns false when the value carries
// no usable timestamp.
func NormalizeTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t, true
	case string:
		return parseTimestampString(t)
	case float64:
		return fromUnix(t)
	case int64:
		return fromUnix(float64(t))
	case int:
		return fromUnix(float64(t))
	case json_Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromUnix(f)
	default:
		return time.Time{}, false
	}
}

// json_Number matches encoding/json's Number without forcing callers to
// enable UseNumber decoding.
type json_Number interface {
	Float64() (float64, error)
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnix(f)
	}
	return time.Time{}, false
}

func fromUnix(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)), true
	}
	return time.Unix(int64(f), 0), true
}

// DisplayTimestamp formats an instant the way the message list renders it.
func DisplayTimestamp(t time.Time) string {
	return t.Local().Format("15:04")
}
