package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/insurewatch/internal/news"
)

// stubEmbedder maps article text to a fixed vector; unknown texts get their
// own axis (never 0 or 1) so they are orthogonal to the fixtures.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := s.vectors[text]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, fixtureDim)
		v[2+(len(text)*7+i)%(fixtureDim-2)] = 1
		out[i] = v
	}
	return out, nil
}

const fixtureDim = 64

// vec pads values to fixtureDim so fixtures share one dimension.
func vec(values ...float32) []float32 {
	v := make([]float32, fixtureDim)
	copy(v, values)
	return v
}

func article(title, url string) news.Article {
	return news.Article{Title: title, URL: url}
}

func TestNormalizeURL_StripsTrackingAndNormalizes(t *testing.T) {
	t.Parallel()

	canonical := CanonicalURL("https://Example.COM:443/news/path/?utm_source=abc&fbclid=123&b=2&a=1#top")
	if canonical != "https://example.com/news/path?a=1&b=2" {
		t.Fatalf("unexpected canonical url: %q", canonical)
	}
	if got := CanonicalURL("not a url"); got != "" {
		t.Fatalf("expected empty result for invalid URL, got %q", got)
	}
	if got := CanonicalURL("http://x.example:8080//a//b/"); got != "http://x.example:8080/a/b" {
		t.Fatalf("unexpected canonical url: %q", got)
	}
}

func TestExactPassFirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	d := New(nil, zerolog.Nop(), Options{})
	res := d.Deduplicate(context.Background(), []news.Article{
		article("Primeiro título", "https://x/1"),
		article("Segundo título", "https://x/1"),
	})
	if len(res.Survivors) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(res.Survivors))
	}
	if res.Survivors[0].Article.Title != "Primeiro título" {
		t.Fatalf("expected first occurrence to win, got %q", res.Survivors[0].Article.Title)
	}
	if res.ExactDropped != 1 {
		t.Fatalf("expected one exact drop, got %d", res.ExactDropped)
	}
	if len(res.Groups) != 1 || res.Groups[0].Basis != BasisURL || len(res.Groups[0].Members) != 2 {
		t.Fatalf("unexpected groups: %+v", res.Groups)
	}
}

func TestExactPassIgnoresTrackingAndKeepsURLless(t *testing.T) {
	t.Parallel()

	d := New(nil, zerolog.Nop(), Options{})
	res := d.Deduplicate(context.Background(), []news.Article{
		article("a", "https://site.example/n/1?utm_source=x"),
		article("b", "https://SITE.example/n/1/"),
		article("c", ""),
		article("d", ""),
	})
	if len(res.Survivors) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(res.Survivors))
	}
}

func TestSemanticPassIsTransitive(t *testing.T) {
	t.Parallel()

	// sim(A,B) = sim(B,C) = 0.9, sim(A,C) = 0.62
	a := vec(1, 0)
	b := vec(0.9, 0.43588989)
	c := vec(0.62, 0.78460181)
	emb := &stubEmbedder{vectors: map[string][]float32{"A": a, "B": b, "C": c}}

	if sim := cosine(a, c, norm(a), norm(c)); sim >= DefaultThreshold {
		t.Fatalf("fixture broken: sim(A,C)=%f should be below threshold", sim)
	}

	d := New(emb, zerolog.Nop(), Options{})
	res := d.Deduplicate(context.Background(), []news.Article{
		{Title: "A"}, {Title: "B"}, {Title: "C"}, {Title: "unrelated story"},
	})
	if len(res.Survivors) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(res.Survivors))
	}

	semantic := 0
	for _, g := range res.Groups {
		if g.Basis != BasisSemantic {
			continue
		}
		semantic++
		if len(g.Members) != 3 {
			t.Fatalf("expected A, B and C in one group, got %v", g.Members)
		}
	}
	if semantic != 1 {
		t.Fatalf("expected exactly one semantic group, got %d", semantic)
	}
}

func TestRepresentativeLongestBodyThenEarliest(t *testing.T) {
	t.Parallel()

	same := vec(1, 1)
	emb := &stubEmbedder{vectors: map[string][]float32{
		"T1\n\nshort":                   same,
		"T2\n\na much longer body text": same,
		"T3\n\na much longer body text": same,
	}}
	early := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	late := early.Add(3 * time.Hour)

	d := New(emb, zerolog.Nop(), Options{})
	res := d.Deduplicate(context.Background(), []news.Article{
		{Title: "T1", Body: "short", Source: "Valor"},
		{Title: "T2", Body: "a much longer body text", PublishedAt: &late, Source: "Estadão"},
		{Title: "T3", Body: "a much longer body text", PublishedAt: &early, Source: "valor"},
	})
	if len(res.Survivors) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(res.Survivors))
	}
	got := res.Survivors[0]
	if got.Article.Title != "T3" || got.Index != 2 {
		t.Fatalf("expected T3 (longest, earliest), got %q", got.Article.Title)
	}
	if strings.Join(got.Sources, "|") != "Valor|Estadão" {
		t.Fatalf("unexpected merged sources: %v", got.Sources)
	}
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	t.Parallel()

	a := vec(1, 0)
	b := vec(0.9, 0.43588989)
	emb := &stubEmbedder{vectors: map[string][]float32{"A": a, "B": b}}
	d := New(emb, zerolog.Nop(), Options{})

	input := []news.Article{
		{Title: "A", URL: "https://x/1"},
		{Title: "A copy", URL: "https://x/1"},
		{Title: "B"},
		{Title: "other"},
		{Title: "another one", URL: "https://x/2"},
	}
	first := d.Deduplicate(context.Background(), input).Articles()
	second := d.Deduplicate(context.Background(), first).Articles()

	if len(first) != len(second) {
		t.Fatalf("second pass changed survivor count: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Title != second[i].Title {
			t.Fatalf("second pass changed survivors at %d: %q -> %q", i, first[i].Title, second[i].Title)
		}
	}
}

func TestEmbeddingFailureFailsOpen(t *testing.T) {
	t.Parallel()

	emb := &stubEmbedder{err: errors.New("connection refused")}
	d := New(emb, zerolog.Nop(), Options{})

	input := make([]news.Article, 0, 100)
	for i := 0; i < 100; i++ {
		input = append(input, news.Article{Title: fmt.Sprintf("notícia %d", i), URL: fmt.Sprintf("https://x/%d", i)})
	}
	res := d.Deduplicate(context.Background(), input)
	if len(res.Survivors) != 100 {
		t.Fatalf("expected all 100 survivors, got %d", len(res.Survivors))
	}
	if !res.SemanticSkipped || !strings.Contains(res.SkipReason, "connection refused") {
		t.Fatalf("expected semantic pass skipped with reason, got %+v", res.SkipReason)
	}
	for i, s := range res.Survivors {
		if s.Index != i {
			t.Fatalf("survivor order changed at %d", i)
		}
	}
}

type badEmbedder struct {
	vectors [][]float32
}

func (b badEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return b.vectors, nil
}

func TestMalformedEmbeddingsFailOpen(t *testing.T) {
	t.Parallel()

	input := []news.Article{{Title: "a"}, {Title: "b"}}
	cases := []badEmbedder{
		{vectors: [][]float32{{1, 0}}},
		{vectors: [][]float32{{1, 0}, {1, 0, 0}}},
		{vectors: [][]float32{{1, 0}, {}}},
	}
	for i, emb := range cases {
		res := New(emb, zerolog.Nop(), Options{}).Deduplicate(context.Background(), input)
		if len(res.Survivors) != 2 || !res.SemanticSkipped {
			t.Fatalf("case %d: expected fail-open with 2 survivors, got %d skipped=%v", i, len(res.Survivors), res.SemanticSkipped)
		}
	}
}

func TestDisjointSetPathCompression(t *testing.T) {
	t.Parallel()

	ds := newDisjointSet(6)
	ds.union(0, 1)
	ds.union(2, 3)
	ds.union(1, 3)
	if ds.find(0) != ds.find(2) {
		t.Fatalf("expected 0 and 2 in one set")
	}
	groups := ds.groups()
	if len(groups) != 3 {
		t.Fatalf("expected 3 sets, got %v", groups)
	}
	if fmt.Sprint(groups[0]) != "[0 1 2 3]" {
		t.Fatalf("unexpected first group: %v", groups[0])
	}
	for i := range ds.parent {
		root := ds.find(i)
		if ds.parent[i] != root {
			t.Fatalf("path not compressed for %d", i)
		}
	}
}
