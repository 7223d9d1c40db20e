package syncclient

import (
	"testing"
	"time"
)

func TestParseTimestampVariants(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"fractional ms", "2026-01-01T00:00:00.123Z", true},
		{"no fraction", "2026-01-01T00:00:00Z", true},
		{"nanoseconds", "2026-01-01T00:00:00.123456789Z", true},
		{"garbage", "not-a-timestamp", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseTimestamp(tc.in, now)
			if ok != tc.ok {
				t.Fatalf("parseTimestamp(%q) ok=%v, want %v", tc.in, ok, tc.ok)
			}
			if !tc.ok && !got.Equal(now()) {
				t.Errorf("expected fallback to now() on parse failure, got %v", got)
			}
		})
	}
}
