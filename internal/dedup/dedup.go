// Package dedup collapses duplicate articles of one run: exact canonical URL
// first, then semantic near-duplicates by embedding similarity.
package dedup

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/insurewatch/internal/news"
	"horse.fit/insurewatch/internal/textnorm"
)

const DefaultThreshold = 0.85

type Basis string

const (
	BasisURL      Basis = "url-exact"
	BasisSemantic Basis = "semantic"
)

// Embedder turns texts into same-order, same-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	// Threshold is the cosine similarity at or above which two articles are
	// the same story.
	Threshold float64
}

// Group is one set of articles judged to be the same story. Indices refer to
// the input slice.
type Group struct {
	Members        []int   `json:"members"`
	Representative int     `json:"representative"`
	Basis          Basis   `json:"basis"`
	MaxSimilarity  float64 `json:"max_similarity,omitempty"`
}

// Survivor is the retained article of one story.
type Survivor struct {
	Article news.Article
	// Index is the survivor's position in the input slice.
	Index int
	// Sources lists the distinct source labels folded into this survivor.
	Sources []string
}

type Result struct {
	Survivors       []Survivor
	Groups          []Group
	ExactDropped    int
	SemanticDropped int
	SemanticSkipped bool
	SkipReason      string
}

// Articles returns the surviving articles in output order.
func (r Result) Articles() []news.Article {
	out := make([]news.Article, 0, len(r.Survivors))
	for _, s := range r.Survivors {
		out = append(out, s.Article)
	}
	return out
}

type Deduplicator struct {
	embedder Embedder
	logger   zerolog.Logger
	opts     Options
}

func New(embedder Embedder, logger zerolog.Logger, options Options) *Deduplicator {
	return &Deduplicator{
		embedder: embedder,
		logger:   logger.With().Str("component", "dedup").Logger(),
		opts:     normalizeOptions(options),
	}
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.Threshold <= 0 || normalized.Threshold > 1 {
		normalized.Threshold = DefaultThreshold
	}
	return normalized
}

// Deduplicate never fails: when the embedding step is unavailable the
// semantic pass is skipped and the exact-pass survivors are returned.
func (d *Deduplicator) Deduplicate(ctx context.Context, articles []news.Article) Result {
	var result Result
	if len(articles) == 0 {
		return result
	}

	kept, urlGroups := exactPass(articles)
	result.ExactDropped = len(articles) - len(kept)
	result.Groups = append(result.Groups, urlGroups...)

	// folded[i] lists every input index absorbed by kept article i.
	folded := make(map[int][]int, len(kept))
	for _, idx := range kept {
		folded[idx] = []int{idx}
	}
	for _, g := range urlGroups {
		folded[g.Representative] = g.Members
	}

	clusters, semanticGroups, reason := d.semanticPass(ctx, articles, kept)
	if reason != "" {
		result.SemanticSkipped = true
		result.SkipReason = reason
		d.logger.Warn().
			Str("reason", reason).
			Int("articles", len(kept)).
			Msg("semantic dedup skipped; returning exact-dedup survivors")
	}
	result.Groups = append(result.Groups, semanticGroups...)

	for _, cluster := range clusters {
		rep := pickRepresentative(articles, cluster)
		var absorbed []int
		for _, idx := range cluster {
			absorbed = append(absorbed, folded[idx]...)
		}
		sort.Ints(absorbed)
		result.Survivors = append(result.Survivors, Survivor{
			Article: articles[rep],
			Index:   rep,
			Sources: collectSources(articles, absorbed),
		})
	}
	result.SemanticDropped = len(kept) - len(result.Survivors)

	d.logger.Debug().
		Int("input", len(articles)).
		Int("exact_dropped", result.ExactDropped).
		Int("semantic_dropped", result.SemanticDropped).
		Int("survivors", len(result.Survivors)).
		Msg("dedup finished")
	return result
}

// exactPass keeps the first article of every canonical URL in arrival
// order. Articles without a usable URL are always kept.
func exactPass(articles []news.Article) ([]int, []Group) {
	kept := make([]int, 0, len(articles))
	firstByKey := make(map[string]int, len(articles))
	members := make(map[int][]int)
	var order []int

	for i, article := range articles {
		key := CanonicalURL(article.URL)
		if key == "" {
			kept = append(kept, i)
			continue
		}
		if first, seen := firstByKey[key]; seen {
			if _, ok := members[first]; !ok {
				members[first] = []int{first}
				order = append(order, first)
			}
			members[first] = append(members[first], i)
			continue
		}
		firstByKey[key] = i
		kept = append(kept, i)
	}

	groups := make([]Group, 0, len(order))
	for _, first := range order {
		groups = append(groups, Group{
			Members:        members[first],
			Representative: first,
			Basis:          BasisURL,
			MaxSimilarity:  1,
		})
	}
	return kept, groups
}

// semanticPass clusters kept articles. It returns clusters as input indices
// ordered by their earliest member. A non-empty reason means the pass was
// skipped and every kept article is its own cluster.
func (d *Deduplicator) semanticPass(ctx context.Context, articles []news.Article, kept []int) ([][]int, []Group, string) {
	singletons := func() [][]int {
		out := make([][]int, 0, len(kept))
		for _, idx := range kept {
			out = append(out, []int{idx})
		}
		return out
	}

	if len(kept) < 2 {
		return singletons(), nil, ""
	}
	if d.embedder == nil {
		return singletons(), nil, "no embedder configured"
	}

	texts := make([]string, 0, len(kept))
	for _, idx := range kept {
		texts = append(texts, articles[idx].Text())
	}

	vectors, err := d.embedEnsured(ctx, texts)
	if err != nil {
		return singletons(), nil, err.Error()
	}

	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		norms[i] = norm(v)
	}

	ds := newDisjointSet(len(kept))
	best := make([]float64, len(kept))
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sim := cosine(vectors[i], vectors[j], norms[i], norms[j])
			if sim >= d.opts.Threshold {
				ds.union(i, j)
				best[i] = math.Max(best[i], sim)
				best[j] = math.Max(best[j], sim)
			}
		}
	}

	var clusters [][]int
	var groups []Group
	for _, members := range ds.groups() {
		cluster := make([]int, 0, len(members))
		maxSim := 0.0
		for _, m := range members {
			cluster = append(cluster, kept[m])
			maxSim = math.Max(maxSim, best[m])
		}
		clusters = append(clusters, cluster)
		if len(cluster) > 1 {
			groups = append(groups, Group{
				Members:        cluster,
				Representative: pickRepresentative(articles, cluster),
				Basis:          BasisSemantic,
				MaxSimilarity:  maxSim,
			})
		}
	}
	return clusters, groups, ""
}

func (d *Deduplicator) embedEnsured(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			vectors = nil
			err = fmt.Errorf("embedder panicked: %v", recovered)
		}
	}()

	vectors, err = d.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: requested=%d returned=%d", len(texts), len(vectors))
	}
	dim := -1
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		if dim >= 0 && len(v) != dim {
			return nil, fmt.Errorf("embedding dimension mismatch at %d: %d != %d", i, len(v), dim)
		}
		dim = len(v)
	}
	return vectors, nil
}

// pickRepresentative prefers the longest content, then the earliest
// publication time (unknown times last), then arrival order.
func pickRepresentative(articles []news.Article, members []int) int {
	best := members[0]
	for _, candidate := range members[1:] {
		if betterRepresentative(articles[candidate], candidate, articles[best], best) {
			best = candidate
		}
	}
	return best
}

func betterRepresentative(a news.Article, ai int, b news.Article, bi int) bool {
	la, lb := textnorm.RuneLen(a.Content()), textnorm.RuneLen(b.Content())
	if la != lb {
		return la > lb
	}
	switch {
	case a.PublishedAt != nil && b.PublishedAt == nil:
		return true
	case a.PublishedAt == nil && b.PublishedAt != nil:
		return false
	case a.PublishedAt != nil && b.PublishedAt != nil && !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.Before(*b.PublishedAt)
	}
	return ai < bi
}

func collectSources(articles []news.Article, indices []int) []string {
	seen := make(map[string]struct{}, len(indices))
	var out []string
	for _, idx := range indices {
		source := strings.TrimSpace(articles[idx].Source)
		if source == "" {
			continue
		}
		key := strings.ToLower(source)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, source)
	}
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns 0 when either vector has zero length.
func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
