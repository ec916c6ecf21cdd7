package utils

import (
	"strings"
	"unicode/utf8"
)

// JoinNonEmpty concatenates the non-empty parts with sep between them.
// Compliance comments are assembled from optional fragments, and empty
// fragments must not leave separator noise behind.
func JoinNonEmpty(sep string, parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(p)
	}
	return b.String()
}

// TruncateRunes caps s at max runes, ending in "..." when it had to cut.
// The cap counts the ellipsis, so the result never exceeds max runes.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	const ellipsis = "..."
	runes := []rune(s)
	if max <= len(ellipsis) {
		return string(runes[:max])
	}
	return string(runes[:max-len(ellipsis)]) + ellipsis
}
