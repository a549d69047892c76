// Package disambiguate asks a language model which tracked insurers an
// article is about when exact name matching found none or too many.
package disambiguate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/classifier"
	"horse.fit/insurewatch/internal/events"
	"horse.fit/insurewatch/internal/globaltime"
	"horse.fit/insurewatch/internal/news"
	"horse.fit/insurewatch/internal/retry"
	"horse.fit/insurewatch/internal/textnorm"
	payloadschema "horse.fit/insurewatch/schema"
)

const (
	DefaultMaxCatalogEntries = 200
	DefaultFanOutCap         = 3
	DefaultTitleLimit        = 200
	DefaultDescriptionLimit  = 500
	DefaultTimeout           = 30 * time.Second
	DefaultMaxTokens         = 512

	maxReasoningRunes = 300
)

var errNoCandidates = errors.New("no candidate entities to offer")

type Options struct {
	MaxCatalogEntries int
	FanOutCap         int
	TitleLimit        int
	DescriptionLimit  int
	MaxTokens         int
	// PromptLanguage is "pt", "en" or "auto".
	PromptLanguage string
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration
	Retry   retry.Policy
	// RequestsPerMinute caps the outbound call rate; zero disables the limit.
	RequestsPerMinute int
}

// Outcome carries the MatchResult plus the bookkeeping the orchestrator
// folds into run stats.
type Outcome struct {
	Result       news.MatchResult
	Offered      int
	Truncated    int
	Hallucinated []int64
	Attempts     int
	Failed       bool
}

type Disambiguator struct {
	provider classifier.Provider
	recorder events.Recorder
	limiter  *rate.Limiter
	logger   zerolog.Logger
	opts     Options
}

// New builds a Disambiguator. A nil provider is allowed: every call then
// degrades to unmatched and is recorded as a failed event.
func New(provider classifier.Provider, recorder events.Recorder, logger zerolog.Logger, options Options) *Disambiguator {
	opts := normalizeOptions(options)
	if recorder == nil {
		recorder = events.Nop{}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}

	return &Disambiguator{
		provider: provider,
		recorder: recorder,
		limiter:  limiter,
		logger:   logger.With().Str("component", "disambiguate").Logger(),
		opts:     opts,
	}
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.MaxCatalogEntries <= 0 {
		normalized.MaxCatalogEntries = DefaultMaxCatalogEntries
	}
	if normalized.FanOutCap <= 0 {
		normalized.FanOutCap = DefaultFanOutCap
	}
	if normalized.TitleLimit <= 0 {
		normalized.TitleLimit = DefaultTitleLimit
	}
	if normalized.DescriptionLimit <= 0 {
		normalized.DescriptionLimit = DefaultDescriptionLimit
	}
	if normalized.MaxTokens <= 0 {
		normalized.MaxTokens = DefaultMaxTokens
	}
	if normalized.Timeout <= 0 {
		normalized.Timeout = DefaultTimeout
	}
	if normalized.Retry.Retryable == nil {
		normalized.Retry.Retryable = classifier.IsRetryable
	}
	if strings.TrimSpace(normalized.PromptLanguage) == "" {
		normalized.PromptLanguage = "auto"
	}
	return normalized
}

// Disambiguate returns the model's pick among candidates. It never fails:
// any problem yields an unmatched result whose reasoning names the cause.
func (d *Disambiguator) Disambiguate(ctx context.Context, article news.Article, candidates []catalog.Entity) news.MatchResult {
	return d.Classify(ctx, article, candidates).Result
}

// Classify is Disambiguate with the call's bookkeeping attached.
func (d *Disambiguator) Classify(ctx context.Context, article news.Article, candidates []catalog.Entity) (out Outcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error().Interface("panic", recovered).Str("title", article.Title).Msg("disambiguation panicked")
			out = d.degraded(article, fmt.Errorf("disambiguation panicked: %v", recovered))
		}
	}()

	offered, truncated := d.truncate(candidates)
	if len(offered) == 0 {
		out = d.degraded(article, errNoCandidates)
		return out
	}

	started := globaltime.UTC()
	verdict, attempts, err := d.call(ctx, article, offered)
	elapsed := globaltime.Since(started)

	if err != nil {
		out = d.degraded(article, err)
		out.Offered = len(offered)
		out.Truncated = truncated
		out.Attempts = attempts
		d.logger.Warn().
			Err(err).
			Str("title", textnorm.Clip(article.Title, 80)).
			Int("offered", len(offered)).
			Int("attempts", attempts).
			Msg("ai disambiguation failed; article left unmatched")
		d.record(ctx, false, map[string]any{
			"title":      textnorm.Clip(article.Title, 80),
			"offered":    len(offered),
			"attempts":   attempts,
			"latency_ms": elapsed.Milliseconds(),
			"provider":   d.providerName(),
			"error":      textnorm.Clip(err.Error(), 200),
		})
		return out
	}

	accepted, hallucinated := intersectOffered(verdict.EntityIDs, offered)
	for _, id := range hallucinated {
		d.logger.Warn().
			Int64("entity_id", id).
			Str("title", textnorm.Clip(article.Title, 80)).
			Msg("model returned an id outside the offered catalog; dropped")
	}
	accepted = news.CapIDs(accepted, d.opts.FanOutCap)

	out = Outcome{
		Offered:      len(offered),
		Truncated:    truncated,
		Hallucinated: hallucinated,
		Attempts:     attempts,
	}
	reasoning := textnorm.Clip(verdict.Reasoning, maxReasoningRunes)
	if len(accepted) == 0 {
		if reasoning == "" {
			reasoning = "model found no tracked entity"
		}
		out.Result = news.MatchResult{
			Article:    article,
			EntityIDs:  []int64{},
			Method:     news.MethodUnmatched,
			Confidence: 0,
			Reasoning:  reasoning,
		}
	} else {
		out.Result = news.MatchResult{
			Article:    article,
			EntityIDs:  accepted,
			Method:     news.MethodAI,
			Confidence: clamp01(verdict.Confidence),
			Reasoning:  reasoning,
		}
	}

	d.record(ctx, true, map[string]any{
		"title":        textnorm.Clip(article.Title, 80),
		"offered":      len(offered),
		"returned":     len(verdict.EntityIDs),
		"accepted":     len(accepted),
		"hallucinated": len(hallucinated),
		"attempts":     attempts,
		"latency_ms":   elapsed.Milliseconds(),
		"provider":     d.providerName(),
	})
	return out
}

// truncate orders candidates for the prompt and keeps the first
// MaxCatalogEntries. The sentinel is never offered.
func (d *Disambiguator) truncate(candidates []catalog.Entity) ([]catalog.Entity, int) {
	matchable := make([]catalog.Entity, 0, len(candidates))
	for _, e := range candidates {
		if e.Sentinel {
			continue
		}
		matchable = append(matchable, e)
	}
	ordered := catalog.PromptOrder(matchable)
	if len(ordered) <= d.opts.MaxCatalogEntries {
		return ordered, 0
	}

	dropped := len(ordered) - d.opts.MaxCatalogEntries
	d.logger.Warn().
		Int("catalog_size", len(ordered)).
		Int("max_entries", d.opts.MaxCatalogEntries).
		Int("dropped", dropped).
		Msg("catalog truncated for ai prompt")
	return ordered[:d.opts.MaxCatalogEntries], dropped
}

func (d *Disambiguator) call(ctx context.Context, article news.Article, offered []catalog.Entity) (*payloadschema.Verdict, int, error) {
	if d.provider == nil {
		return nil, 0, classifier.ErrNotConfigured
	}

	prompt, lang, err := buildPrompt(article, offered, d.opts)
	if err != nil {
		return nil, 0, err
	}

	var (
		verdict  *payloadschema.Verdict
		attempts int
	)
	err = retry.Do(ctx, d.opts.Retry, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()

		raw, err := d.provider.Complete(attemptCtx, prompt)
		if err != nil {
			return fmt.Errorf("%s completion: %w", d.provider.Name(), err)
		}
		parsed, err := payloadschema.ParseVerdict([]byte(raw))
		if err != nil {
			// Temperature is zero, so asking again yields the same answer.
			return retry.Permanent(fmt.Errorf("invalid model answer: %w", err))
		}
		verdict = parsed
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}

	d.logger.Debug().
		Str("provider", d.provider.Name()).
		Str("model", d.provider.Model()).
		Str("prompt_language", lang).
		Int("offered", len(offered)).
		Ints64("entity_ids", verdict.EntityIDs).
		Msg("ai verdict received")
	return verdict, attempts, nil
}

func (d *Disambiguator) degraded(article news.Article, cause error) Outcome {
	return Outcome{
		Result: news.MatchResult{
			Article:    article,
			EntityIDs:  []int64{},
			Method:     news.MethodUnmatched,
			Confidence: 0,
			Reasoning:  textnorm.Clip("ai disambiguation failed: "+cause.Error(), maxReasoningRunes),
		},
		Failed: !errors.Is(cause, errNoCandidates),
	}
}

func (d *Disambiguator) record(ctx context.Context, success bool, detail map[string]any) {
	d.recorder.Record(ctx, events.Event{
		Type:    events.TypeAIMatch,
		API:     events.APIAIMatcher,
		Success: success,
		Detail:  events.Detail(detail),
		RunID:   events.RunIDFrom(ctx),
	})
}

func (d *Disambiguator) providerName() string {
	if d.provider == nil {
		return ""
	}
	return d.provider.Name() + "/" + d.provider.Model()
}

// intersectOffered keeps returned IDs that were offered, in response order,
// and reports the rest.
func intersectOffered(returned []int64, offered []catalog.Entity) ([]int64, []int64) {
	allowed := make(map[int64]struct{}, len(offered))
	for _, e := range offered {
		allowed[e.ID] = struct{}{}
	}
	accepted := make([]int64, 0, len(returned))
	var dropped []int64
	for _, id := range returned {
		if _, ok := allowed[id]; ok {
			accepted = append(accepted, id)
			continue
		}
		dropped = append(dropped, id)
	}
	return accepted, dropped
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
