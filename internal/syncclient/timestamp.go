package syncclient

import (
	"regexp"
	"time"
)

// nanoFractionPattern matches an RFC-3339 timestamp whose fractional
// seconds run past millisecond precision, so it can be truncated before
// time.Parse (which accepts any precision via RFC3339Nano, but servers
// occasionally emit a fractional width Go's parser rejects).
var nanoFractionPattern = regexp.MustCompile(`^(.*\.\d{3})\d+(Z|[+-]\d{2}:\d{2})$`)

// parseTimestamp accepts RFC-3339 with fractional seconds at ns/ms/s
// precision, or no fraction at all. Falls back to now with ok=false so
// the caller can stamp degraded and log a warning.
func parseTimestamp(s string, now func() time.Time) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if m := nanoFractionPattern.FindStringSubmatch(s); m != nil {
		truncated := m[1] + m[2]
		if t, err := time.Parse(time.RFC3339Nano, truncated); err == nil {
			return t.UTC(), true
		}
	}
	return now(), false
}
