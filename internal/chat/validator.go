package chat

import (
	"strings"
	"unicode/utf8"
)

// MaxContentChars is the longest message kept after trimming. Longer input
// is truncated, not rejected.
const MaxContentChars = 1000

// NormalizeContent trims surrounding whitespace and truncates to
// MaxContentChars characters. An empty result means there is nothing to
// send.
func NormalizeContent(raw string) string {
	text := strings.TrimSpace(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	if utf8.RuneCountInString(text) <= MaxContentChars {
		return text
	}
	n := 0
	for i := range text {
		if n == MaxContentChars {
			return text[:i]
		}
		n++
	}
	return text
}
