// Package pipeline runs one matching batch: dedup, exact-name matching, AI
// fallback, fan-out cap and sentinel routing.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/dedup"
	"horse.fit/insurewatch/internal/disambiguate"
	"horse.fit/insurewatch/internal/events"
	"horse.fit/insurewatch/internal/globaltime"
	"horse.fit/insurewatch/internal/matcher"
	"horse.fit/insurewatch/internal/news"
)

const (
	DefaultFanOutCap     = 3
	DefaultAIConcurrency = 1

	singleMatchConfidence = 0.95
	multiMatchConfidence  = 0.85
)

// Deduplicator is satisfied by *dedup.Deduplicator.
type Deduplicator interface {
	Deduplicate(ctx context.Context, articles []news.Article) dedup.Result
}

// Disambiguator is satisfied by *disambiguate.Disambiguator.
type Disambiguator interface {
	Classify(ctx context.Context, article news.Article, candidates []catalog.Entity) disambiguate.Outcome
}

type Options struct {
	FanOutCap     int
	MinNameLength int
	// AIConcurrency bounds parallel AI calls; results keep arrival order.
	AIConcurrency int
}

// Stats summarizes one run.
type Stats struct {
	Input              int  `json:"input"`
	Survivors          int  `json:"survivors"`
	ExactDuplicates    int  `json:"exact_duplicates"`
	SemanticDuplicates int  `json:"semantic_duplicates"`
	SemanticSkipped    bool `json:"semantic_skipped"`

	ExactName int `json:"exact_name"`
	AI        int `json:"ai_disambiguation"`
	Unmatched int `json:"unmatched"`

	AIInvocations  int `json:"ai_invocations"`
	AIFailures     int `json:"ai_failures"`
	Hallucinated   int `json:"hallucinated_ids"`
	TruncatedCalls int `json:"truncated_calls"`
	Recovered      int `json:"recovered_panics"`
}

type RunResult struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Results    []news.MatchResult `json:"results"`
	Groups     []dedup.Group      `json:"dedup_groups,omitempty"`
	SkipReason string             `json:"dedup_skip_reason,omitempty"`
	Stats      Stats              `json:"stats"`
}

type Service struct {
	dedup  Deduplicator
	ai     Disambiguator
	logger zerolog.Logger
	opts   Options
}

// NewService wires the run collaborators. A nil deduplicator keeps every
// article; a nil disambiguator leaves AI-bound articles unmatched.
func NewService(deduplicator Deduplicator, ai Disambiguator, logger zerolog.Logger, options Options) *Service {
	return &Service{
		dedup:  deduplicator,
		ai:     ai,
		logger: logger.With().Str("component", "pipeline").Logger(),
		opts:   normalizeOptions(options),
	}
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.FanOutCap <= 0 {
		normalized.FanOutCap = DefaultFanOutCap
	}
	if normalized.MinNameLength <= 0 {
		normalized.MinNameLength = matcher.DefaultMinNameLength
	}
	if normalized.AIConcurrency <= 0 {
		normalized.AIConcurrency = DefaultAIConcurrency
	}
	return normalized
}

// Run matches one batch against cat. Only input errors are returned; once
// the batch is accepted every surviving article yields exactly one result.
func (s *Service) Run(ctx context.Context, articles []news.Article, cat *catalog.Catalog) (RunResult, error) {
	if s == nil {
		return RunResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if cat == nil || cat.Len() == 0 {
		return RunResult{}, fmt.Errorf("run batch: %w", catalog.ErrEmptyCatalog)
	}
	if err := news.ValidateBatch(articles); err != nil {
		return RunResult{}, fmt.Errorf("run batch: %w", err)
	}

	run := RunResult{
		RunID:     uuid.NewString(),
		StartedAt: globaltime.UTC(),
	}
	ctx = events.WithRunID(ctx, run.RunID)
	logger := s.logger.With().Str("run_id", run.RunID).Logger()

	survivors := s.deduplicate(ctx, articles, &run)
	run.Stats.Input = len(articles)
	run.Stats.Survivors = len(survivors)

	m := matcher.New(cat, matcher.Options{MinNameLength: s.opts.MinNameLength})
	results := make([]news.MatchResult, len(survivors))
	var pending []aiTask

	for i, survivor := range survivors {
		ids, err := safeMatch(m, survivor.Article)
		if err != nil {
			run.Stats.Recovered++
			logger.Error().Err(err).Str("title", survivor.Article.Title).Msg("exact matching failed; article left unmatched")
			results[i] = news.MatchResult{Article: survivor.Article, Method: news.MethodUnmatched, Reasoning: err.Error()}
			continue
		}

		switch {
		case len(ids) >= 1 && len(ids) <= s.opts.FanOutCap:
			results[i] = news.MatchResult{
				Article:    survivor.Article,
				EntityIDs:  ids,
				Method:     news.MethodExactName,
				Confidence: exactConfidence(len(ids)),
			}
		case len(ids) == 0:
			pending = append(pending, aiTask{index: i, candidates: cat.Entities()})
		default:
			pending = append(pending, aiTask{index: i, candidates: cat.Subset(ids)})
		}
	}

	s.disambiguateAll(ctx, logger, survivors, pending, results, &run.Stats)

	for i := range results {
		results[i] = s.finalize(results[i], survivors[i], cat.Sentinel())
		switch results[i].Method {
		case news.MethodExactName:
			run.Stats.ExactName++
		case news.MethodAI:
			run.Stats.AI++
		default:
			run.Stats.Unmatched++
		}
	}

	run.Results = results
	run.FinishedAt = globaltime.UTC()

	logger.Info().
		Int("input", run.Stats.Input).
		Int("survivors", run.Stats.Survivors).
		Int("exact_duplicates", run.Stats.ExactDuplicates).
		Int("semantic_duplicates", run.Stats.SemanticDuplicates).
		Bool("semantic_skipped", run.Stats.SemanticSkipped).
		Int("exact_name", run.Stats.ExactName).
		Int("ai_disambiguation", run.Stats.AI).
		Int("unmatched", run.Stats.Unmatched).
		Int("ai_invocations", run.Stats.AIInvocations).
		Int("ai_failures", run.Stats.AIFailures).
		Int("hallucinated_ids", run.Stats.Hallucinated).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("matching run finished")
	return run, nil
}

type aiTask struct {
	index      int
	candidates []catalog.Entity
}

func (s *Service) deduplicate(ctx context.Context, articles []news.Article, run *RunResult) []dedup.Survivor {
	if s.dedup == nil {
		out := make([]dedup.Survivor, 0, len(articles))
		for i, article := range articles {
			out = append(out, dedup.Survivor{Article: article, Index: i, Sources: sourceList(article.Source)})
		}
		return out
	}

	res := s.dedup.Deduplicate(ctx, articles)
	run.Groups = res.Groups
	run.SkipReason = res.SkipReason
	run.Stats.ExactDuplicates = res.ExactDropped
	run.Stats.SemanticDuplicates = res.SemanticDropped
	run.Stats.SemanticSkipped = res.SemanticSkipped
	return res.Survivors
}

func (s *Service) disambiguateAll(
	ctx context.Context,
	logger zerolog.Logger,
	survivors []dedup.Survivor,
	tasks []aiTask,
	results []news.MatchResult,
	stats *Stats,
) {
	if len(tasks) == 0 {
		return
	}
	if s.ai == nil {
		for _, task := range tasks {
			results[task.index] = news.MatchResult{
				Article:   survivors[task.index].Article,
				Method:    news.MethodUnmatched,
				Reasoning: "ai disambiguation disabled",
			}
		}
		return
	}

	outcomes := make([]disambiguate.Outcome, len(tasks))
	recovered := make([]bool, len(tasks))

	var g errgroup.Group
	g.SetLimit(s.opts.AIConcurrency)
	for n, task := range tasks {
		g.Go(func() error {
			article := survivors[task.index].Article
			defer func() {
				if r := recover(); r != nil {
					recovered[n] = true
					logger.Error().Interface("panic", r).Str("title", article.Title).Msg("disambiguation panicked; article left unmatched")
					outcomes[n] = disambiguate.Outcome{
						Result: news.MatchResult{
							Article:   article,
							Method:    news.MethodUnmatched,
							Reasoning: fmt.Sprintf("disambiguation panicked: %v", r),
						},
						Failed: true,
					}
				}
			}()
			outcomes[n] = s.ai.Classify(ctx, article, task.candidates)
			return nil
		})
	}
	_ = g.Wait()

	for n, task := range tasks {
		out := outcomes[n]
		results[task.index] = out.Result
		stats.AIInvocations++
		if out.Failed {
			stats.AIFailures++
		}
		if recovered[n] {
			stats.Recovered++
		}
		stats.Hallucinated += len(out.Hallucinated)
		if out.Truncated > 0 {
			stats.TruncatedCalls++
		}
	}
}

// finalize applies the global cap and routes empty results to the sentinel.
func (s *Service) finalize(result news.MatchResult, survivor dedup.Survivor, sentinel catalog.Entity) news.MatchResult {
	result.Article = survivor.Article
	result.Sources = survivor.Sources
	result.EntityIDs = news.CapIDs(result.EntityIDs, s.opts.FanOutCap)

	if len(result.EntityIDs) == 0 {
		result.EntityIDs = []int64{sentinel.ID}
		result.Method = news.MethodUnmatched
		result.Confidence = 0
	}
	if result.Method == "" {
		result.Method = news.MethodUnmatched
	}
	return result
}

func safeMatch(m *matcher.Matcher, article news.Article) (ids []int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			ids = nil
			err = fmt.Errorf("exact matching panicked: %v", r)
		}
	}()
	return m.Match(article), nil
}

func exactConfidence(n int) float64 {
	if n == 1 {
		return singleMatchConfidence
	}
	return multiMatchConfidence
}

func sourceList(source string) []string {
	if source == "" {
		return nil
	}
	return []string{source}
}
