package logger

import (
	"fmt"
	"regexp"
)

// Secret-shaped values that must never reach a log line. The patterns cover
// the token formats of the configured gateways and model backends.
var secretPatterns = []*regexp.Regexp{
	// Discord bot tokens: three dot-separated base64 groups.
	regexp.MustCompile(`[MNO][A-Za-z\d_-]{23,25}\.[A-Za-z\d_-]{6}\.[A-Za-z\d_-]{27,38}`),
	// Slack tokens.
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`),
	// Telegram bot tokens: numeric id, colon, 35-char secret.
	regexp.MustCompile(`\d{8,10}:[A-Za-z0-9_-]{35}`),
	// Anthropic / OpenAI API keys.
	regexp.MustCompile(`sk-(?:ant-)?[A-Za-z0-9_-]{20,}`),
	// Bearer headers.
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{16,}`),
}

// Redact masks secret-shaped substrings in s.
func Redact(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func redactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			out[k] = Redact(s)
			continue
		}
		// Non-string values are stringified only if they redact differently,
		// preserving numbers and bools as-is in the common case.
		if s := fmt.Sprintf("%v", v); Redact(s) != s {
			out[k] = Redact(s)
		} else {
			out[k] = v
		}
	}
	return out
}
