package provider

import "regexp"

// Backend error messages can echo request headers back, API keys included.
// Redact anything that looks like a credential before surfacing the text.
var secretPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]+`), "[redacted]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), "[redacted]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|authorization|bearer)([=:\s]+)[A-Za-z0-9._-]{8,}`), "${1}${2}[redacted]"},
}

// Redact replaces credential-shaped substrings in s with a placeholder.
func Redact(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}
