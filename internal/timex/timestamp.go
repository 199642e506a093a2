package timex

import (
	"strings"
	"time"
)

// ISOLayout renders instants the way browsers' Date.toISOString does:
// UTC with millisecond precision and a literal Z. Records and snapshot
// names written by older clients use this exact format.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// FormatISO returns t in ISOLayout.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// ParseISO accepts any RFC 3339 timestamp, with or without fractional
// seconds. The second return value is false for empty or malformed input.
func ParseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
