package observability

import "regexp"

// Redactor strips API-key-shaped substrings out of log lines. It is
// intentionally pattern-based rather than value-based: we do not want to
// thread every live key into every call site just to redact it.
type Redactor struct {
	patterns []*regexp.Regexp
}

var defaultPatterns = []string{
	`sk-ant-[A-Za-z0-9_-]{10,}`,
	`sk-[A-Za-z0-9_-]{20,}`,
	`AIza[A-Za-z0-9_-]{20,}`,
	`Bearer\s+[A-Za-z0-9._-]{10,}`,
}

// NewRedactor compiles the default set of key-shaped patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// Redact replaces any key-shaped substring of s with "[REDACTED]".
func (r *Redactor) Redact(s string) string {
	if r == nil {
		return s
	}
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
