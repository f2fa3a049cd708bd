package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	tokenRe = regexp.MustCompile(`(?i)\b(bearer\s+|sk-)[a-z0-9._\-]{8,}`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails, phone numbers and API tokens when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	out = tokenRe.ReplaceAllString(out, "[REDACTED_TOKEN]")
	return out
}

// Preview redacts in and clips it to at most max runes for log lines.
func Preview(in string, max int) string {
	out := Text(in)
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return string(runes[:max]) + "..."
}

// Secret masks a credential for logging regardless of the redaction
// switch, keeping only the last four characters.
func Secret(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if utf8.RuneCountInString(v) <= 8 {
		return "****"
	}
	runes := []rune(v)
	return "****" + string(runes[len(runes)-4:])
}
