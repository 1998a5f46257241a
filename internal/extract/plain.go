package extract

import (
	"bytes"
	"regexp"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText strips a byte order mark, normalizes line endings and replaces invalid UTF-8.
func decodeText(content []byte) string {
	content = bytes.TrimPrefix(content, utf8BOM)
	s := strings.ToValidUTF8(string(content), "\ufffd")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

var (
	mdHeading  = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	mdListItem = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+[.)])[ \t]+`)
	mdQuote    = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
	mdFence    = regexp.MustCompile("(?m)^[ \t]*(?:```|~~~).*$")
	mdRule     = regexp.MustCompile(`(?m)^[ \t]*(?:-{3,}|\*{3,}|_{3,})[ \t]*$`)
	mdComment  = regexp.MustCompile(`(?s)<!--.*?-->`)
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdCode     = regexp.MustCompile("`([^`\n]+)`")
	mdEmphasis = regexp.MustCompile(`(^|[\s(\[])(\*\*|__|\*|_)([^*_\n]+?)(\*\*|__|\*|_)`)
)

// extractMarkdown returns the prose of a Markdown document without markup,
// so excerpts quote policy text rather than syntax.
func extractMarkdown(content []byte) string {
	s := decodeText(content)
	s = mdComment.ReplaceAllString(s, "")
	s = mdFence.ReplaceAllString(s, "")
	s = mdRule.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdListItem.ReplaceAllString(s, "")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdCode.ReplaceAllString(s, "$1")
	s = mdEmphasis.ReplaceAllString(s, "$1$3")
	return strings.TrimSpace(s)
}
