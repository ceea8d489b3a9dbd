package shared

import (
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// secretRule pairs a pattern with its replacement. Rules that capture a
// prefix group keep the prefix so log lines stay greppable.
type secretRule struct {
	re   *regexp.Regexp
	repl string
}

var secretRules = []secretRule{
	// key=value assignments with key-like names and long opaque values
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?[A-Za-z0-9_\-./+=]{16,}"?`), "${1}=" + redactedPlaceholder},
	// Authorization headers
	{regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9_\-./+=]{16,}`), "${1}" + redactedPlaceholder},
	// Anthropic-style keys
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{16,}`), redactedPlaceholder},
	// Google-style keys
	{regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), redactedPlaceholder},
	// Telegram bot tokens (numeric bot ID, colon, opaque secret)
	{regexp.MustCompile(`\b\d{6,12}:[A-Za-z0-9_\-]{30,}\b`), redactedPlaceholder},
	// token-like UUID assignments
	{regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}"?`), "${1}=" + redactedPlaceholder},
}

// Redact scrubs secret-bearing substrings from s before it is logged or
// persisted. Plain text passes through unchanged.
func Redact(s string) string {
	if s == "" {
		return s
	}
	for _, rule := range secretRules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}
