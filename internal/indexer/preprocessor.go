package indexer

import (
	"strings"
	"unicode"
)

// Preprocess prepares extracted text for chunking. Invisible format runes
// (soft hyphens, zero-width spaces, byte order marks) and control characters
// are dropped, and every whitespace run becomes a single space.
func Preprocess(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.Is(unicode.Cf, r), unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(cleaned), " ")
}
