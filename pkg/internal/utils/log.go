package utils

import (
	"strings"
	"unicode"
)

// logFieldLimit caps how much of an untrusted string makes it into a log line.
const logFieldLimit = 128

// SanitizeForLog makes an untrusted string (model references, user-supplied
// names) safe to embed in a log line by escaping control characters and
// truncating overlong values.
func SanitizeForLog(s string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		default:
			if unicode.IsPrint(r) {
				b.WriteRune(r)
			} else {
				b.WriteByte('?')
			}
		}
	}

	out := b.String()
	if len(out) > logFieldLimit {
		out = out[:logFieldLimit] + "...[truncated]"
	}
	return out
}
