package normalize

import (
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// isoLayouts are tried in order; layouts without a zone parse as UTC
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a message timestamp. It tries ISO-8601, then
// RFC 2822, then epoch milliseconds. When nothing matches it returns now
// and reliable=false. The result is always UTC.
func ParseTimestamp(s string, now time.Time) (t time.Time, reliable bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC(), true
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms >= 0 {
		return time.UnixMilli(ms).UTC(), true
	}

	return now.UTC(), false
}

// guardFuture flags timestamps too far ahead of now as unreliable so a
// bogus Date header cannot push the watermark into the future.
func guardFuture(t time.Time, reliable bool, now time.Time, skew time.Duration) (time.Time, bool) {
	if reliable && skew > 0 && t.After(now.Add(skew)) {
		return t, false
	}
	return t, reliable
}
