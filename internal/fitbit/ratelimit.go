package fitbit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Fitbit reports the seconds until the hourly quota resets in this header.
const rateLimitResetHeader = "Fitbit-Rate-Limit-Reset"

// RetryDelay extracts how long to wait before calling again after a 429.
// Retry-After (seconds or HTTP date) wins over the Fitbit reset header.
// Returns 0 if neither is usable.
func RetryDelay(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if v := strings.TrimSpace(h.Get(rateLimitResetHeader)); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
