package channel

import (
	"strings"
	"unicode"
)

const (
	// MaxParamLen is the longest template parameter the provider accepts, in characters.
	MaxParamLen = 1000
	Ellipsis    = "…"
	// ZeroWidth stands in for unknown values; the provider rejects empty parameters.
	ZeroWidth = "\u200b"
)

// Sanitize makes s acceptable as a template parameter: newlines, tabs and
// control characters become spaces, every whitespace run collapses to one
// space, and the result is cut to MaxParamLen characters ending in Ellipsis.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return truncate(b.String(), MaxParamLen)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	ell := []rune(Ellipsis)
	return string(runes[:max-len(ell)]) + Ellipsis
}

// orPlaceholder sanitizes s, falling back to ZeroWidth when nothing is left
func orPlaceholder(s string) string {
	if s = Sanitize(s); s == "" {
		return ZeroWidth
	}
	return s
}
