// Package matcher resolves articles to catalog entities by accent-insensitive
// whole-word name lookup.
package matcher

import (
	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/news"
	"horse.fit/insurewatch/internal/textnorm"
)

const DefaultMinNameLength = 4

type Options struct {
	// MinNameLength excludes names and aliases shorter than this many runes
	// after normalization.
	MinNameLength int
}

type entityTerms struct {
	id    int64
	terms []string
}

// Matcher holds the normalized search terms of one catalog snapshot.
type Matcher struct {
	entries []entityTerms
	skipped int
}

func New(c *catalog.Catalog, options Options) *Matcher {
	opts := normalizeOptions(options)
	m := &Matcher{}
	if c == nil {
		return m
	}

	for _, entity := range c.Entities() {
		terms := make([]string, 0, 1+len(entity.Aliases))
		seen := make(map[string]struct{}, 1+len(entity.Aliases))
		for _, raw := range append([]string{entity.Name}, entity.Aliases...) {
			term := textnorm.Normalize(raw)
			if term == "" {
				continue
			}
			if len([]rune(term)) < opts.MinNameLength {
				m.skipped++
				continue
			}
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}
			terms = append(terms, term)
		}
		m.entries = append(m.entries, entityTerms{id: entity.ID, terms: terms})
	}
	return m
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.MinNameLength <= 0 {
		normalized.MinNameLength = DefaultMinNameLength
	}
	return normalized
}

// SkippedTerms counts names and aliases excluded for being too short.
func (m *Matcher) SkippedTerms() int {
	return m.skipped
}

// Match returns the ids of every entity whose name or alias occurs as a whole
// word in the article title and content, in catalog order.
func (m *Matcher) Match(article news.Article) []int64 {
	haystack := textnorm.Normalize(article.Title + " " + article.Content())
	if haystack == "" {
		return nil
	}

	var ids []int64
	for _, entry := range m.entries {
		for _, term := range entry.terms {
			if textnorm.ContainsWord(haystack, term) {
				ids = append(ids, entry.id)
				break
			}
		}
	}
	return ids
}
