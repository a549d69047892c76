package source

import (
	"strings"

	"horse.fit/insurewatch/internal/textnorm"
)

const ellipsis = "…"

// CleanText collapses whitespace inside each line and rejoins non-empty
// lines as paragraphs separated by a blank line. Any of \r\n, \r or \n
// ends a line.
func CleanText(raw string) string {
	lines := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	var b strings.Builder
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Join(words, " "))
	}
	return b.String()
}

// TruncateText clips text to maxChars runes, the last of which becomes an
// ellipsis. The bool reports whether anything was cut.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if maxChars <= 0 || textnorm.RuneLen(trimmed) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return ellipsis, true
	}
	return textnorm.Clip(trimmed, maxChars-1) + ellipsis, true
}
