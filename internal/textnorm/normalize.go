// Package textnorm holds the accent-insensitive text folding shared by the
// matcher and the prompt builder.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds text for matching: NFKD decomposition, combining marks
// removed, lowercase, whitespace collapsed to single spaces.
//
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	folded := stripMarks(raw)
	folded = strings.ToLower(folded)
	// Lowercasing can surface characters that decompose again (rare
	// compatibility forms), so fold once more before collapsing.
	folded = stripMarks(folded)
	return strings.Join(strings.Fields(folded), " ")
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ContainsWord reports whether needle occurs in haystack with word
// boundaries on both sides. Both arguments are expected to be normalized.
// A boundary is only required on a side where the needle itself starts or
// ends with a letter or digit, so "s.a." still matches before punctuation.
func ContainsWord(haystack, needle string) bool {
	if needle == "" || len(needle) > len(haystack) {
		return false
	}

	first, _ := utf8.DecodeRuneInString(needle)
	last, _ := utf8.DecodeLastRuneInString(needle)
	needLeft := isWordRune(first)
	needRight := isWordRune(last)

	offset := 0
	for offset <= len(haystack)-len(needle) {
		idx := strings.Index(haystack[offset:], needle)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(needle)

		leftOK := true
		if needLeft && start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(haystack[:start])
			leftOK = !isWordRune(prev)
		}
		rightOK := true
		if needRight && end < len(haystack) {
			next, _ := utf8.DecodeRuneInString(haystack[end:])
			rightOK = !isWordRune(next)
		}
		if leftOK && rightOK {
			return true
		}

		_, size := utf8.DecodeRuneInString(haystack[start:])
		offset = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Clip returns at most maxRunes runes of s, trimmed. A non-positive limit
// returns s unchanged.
func Clip(s string, maxRunes int) string {
	trimmed := strings.TrimSpace(s)
	if maxRunes <= 0 || utf8.RuneCountInString(trimmed) <= maxRunes {
		return trimmed
	}
	return strings.TrimSpace(string([]rune(trimmed)[:maxRunes]))
}

// RuneLen is the character length used for "longest body" comparisons.
func RuneLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
