package chat

import (
	"regexp"
	"unicode/utf8"
)

const redactedMarker = "[redacted]"

// Redactor masks credentials in text before it is written to logs.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor returns a redactor for common API key and token formats.
func NewRedactor() *Redactor {
	sources := []string{
		`sk-ant-[A-Za-z0-9_-]{20,}`,
		`sk-proj-[A-Za-z0-9_-]{20,}`,
		`sk-[A-Za-z0-9]{32,}`,
		`AIza[0-9A-Za-z_-]{35}`,
		`AKIA[0-9A-Z]{16}`,
		`gh[pousr]_[A-Za-z0-9]{36}`,
		`(?i)bearer\s+[A-Za-z0-9._-]{20,}`,
		`(?i)(api[_-]?key|secret|password)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
		`-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH|PGP)\s+PRIVATE\s+KEY-----`,
	}

	patterns := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		patterns = append(patterns, regexp.MustCompile(src))
	}
	return &Redactor{patterns: patterns}
}

// Redact replaces every match with [redacted] and reports whether anything
// was replaced.
func (r *Redactor) Redact(text string) (string, bool) {
	changed := false
	for _, re := range r.patterns {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, redactedMarker)
			changed = true
		}
	}
	return text, changed
}

// Preview redacts text and shortens it to at most limit runes.
func (r *Redactor) Preview(text string, limit int) string {
	text, _ = r.Redact(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
