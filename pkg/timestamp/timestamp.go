// Package timestamp provides tolerant timestamp parsing for heterogeneous
// sensor input.
//
// Sensor lines carry time values in whatever shape the firmware happens to
// emit: RFC3339 strings, date-only strings, Unix seconds, or Unix
// milliseconds. Parse accepts all of these; callers substitute their own
// default (normally ingestion time) when parsing fails, so an unparsable
// time value is never fatal.
package timestamp

import (
	"strconv"
	"strings"
	"time"
)

// Layouts attempted in order when parsing time strings. RFC3339 variants
// first since they are what well-behaved producers emit.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// Unix-second values below this are implausible for live sensor data but
// are still accepted; values above it are interpreted as milliseconds.
const millisCutoff = int64(1e12)

// Parse attempts to interpret v as a point in time. It accepts time.Time,
// RFC3339-style strings, numeric strings, and integer/float Unix epochs
// (seconds or milliseconds, chosen by magnitude). The boolean result is
// false when v carries no parsable time.
func Parse(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t, true
	case string:
		return parseString(t)
	case float64:
		return fromEpoch(int64(t)), true
	case int64:
		return fromEpoch(t), true
	case int:
		return fromEpoch(int64(t)), true
	default:
		return time.Time{}, false
	}
}

func parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Numeric string: Unix seconds or milliseconds
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(int64(f)), true
	}

	return time.Time{}, false
}

func fromEpoch(n int64) time.Time {
	if n >= millisCutoff {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// OrNow returns the parsed time for v, or the current time when v carries
// no parsable time. This is the decoder's default-to-ingestion-time rule.
func OrNow(v any) time.Time {
	if t, ok := Parse(v); ok {
		return t
	}
	return time.Now().UTC()
}
