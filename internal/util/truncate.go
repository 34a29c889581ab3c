package util

import "fmt"

// DefaultLogMaxLen caps remote response bodies written to the log (1KB).
const DefaultLogMaxLen = 1024

// TruncateLog truncates long strings for logging.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog for []byte with DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// MaskToken keeps only the tail of an access or refresh token so it can be logged.
func MaskToken(t string) string {
	if t == "" {
		return "<empty>"
	}
	if len(t) < 20 {
		return "***"
	}
	return "..." + t[len(t)-8:]
}
