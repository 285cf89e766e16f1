package logutil

import "strings"

// SanitizeForLog removes newlines and control characters from wire-provided
// strings (frame types, close reasons, file paths) so a malicious agent
// cannot inject fake log entries.
func SanitizeForLog(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r >= 32 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Truncate shortens s to at most n runes for log lines that embed
// agent-controlled values.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
