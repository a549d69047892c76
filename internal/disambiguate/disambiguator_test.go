package disambiguate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/classifier"
	"horse.fit/insurewatch/internal/events"
	"horse.fit/insurewatch/internal/news"
	"horse.fit/insurewatch/internal/retry"
)

type stubProvider struct {
	mu      sync.Mutex
	answers []string
	errs    []error
	prompts []classifier.Prompt
	panic   bool
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-1" }

func (s *stubProvider) Complete(_ context.Context, prompt classifier.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic {
		panic("provider exploded")
	}
	call := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	if call < len(s.errs) && s.errs[call] != nil {
		return "", s.errs[call]
	}
	if call < len(s.answers) {
		return s.answers[call], nil
	}
	return s.answers[len(s.answers)-1], nil
}

type captureRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureRecorder) Record(_ context.Context, event events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestDisambiguator(provider classifier.Provider, rec events.Recorder, opts Options) *Disambiguator {
	opts.Retry.Sleep = noSleep
	return New(provider, rec, zerolog.Nop(), opts)
}

func candidates() []catalog.Entity {
	return []catalog.Entity{
		{ID: 5, Name: "Bradesco Saúde", Aliases: []string{"Bradesco Seguros"}, Enabled: true},
		{ID: 6, Name: "SulAmérica", Enabled: true},
		{ID: 7, Name: "Amil", Enabled: true},
		{ID: 8, Name: "Hapvida", Enabled: false},
	}
}

func TestHallucinatedIDsAreDropped(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{answers: []string{`{"entity_ids":[5,999],"confidence":0.7,"reasoning":"Bradesco citada"}`}}
	rec := &captureRecorder{}
	d := newTestDisambiguator(provider, rec, Options{PromptLanguage: "pt"})

	ctx := events.WithRunID(context.Background(), "run-7")
	out := d.Classify(ctx, news.Article{Title: "Seguradoras e o mercado"}, candidates())

	if fmt.Sprint(out.Result.EntityIDs) != "[5]" {
		t.Fatalf("expected [5], got %v", out.Result.EntityIDs)
	}
	if out.Result.Method != news.MethodAI {
		t.Fatalf("expected ai method, got %s", out.Result.Method)
	}
	if out.Result.Confidence != 0.7 {
		t.Fatalf("expected model confidence, got %f", out.Result.Confidence)
	}
	if fmt.Sprint(out.Hallucinated) != "[999]" {
		t.Fatalf("expected 999 reported as hallucinated, got %v", out.Hallucinated)
	}
	if len(rec.events) != 1 || !rec.events[0].Success || rec.events[0].RunID != "run-7" {
		t.Fatalf("expected one successful event tagged with run id, got %+v", rec.events)
	}
	if !strings.Contains(rec.events[0].Detail, `"hallucinated":1`) {
		t.Fatalf("expected hallucination count in detail, got %s", rec.events[0].Detail)
	}
}

func TestFanOutCapAndDuplicates(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{answers: []string{`{"entity_ids":[8,5,8,6,7],"confidence":0.9,"reasoning":"x"}`}}
	d := newTestDisambiguator(provider, nil, Options{})

	got := d.Disambiguate(context.Background(), news.Article{Title: "Planos de saúde"}, candidates())
	if fmt.Sprint(got.EntityIDs) != "[8 5 6]" {
		t.Fatalf("expected response order capped to 3, got %v", got.EntityIDs)
	}
}

func TestMalformedAnswerDegradesWithoutRetry(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{answers: []string{`I think it is Amil`}}
	rec := &captureRecorder{}
	d := newTestDisambiguator(provider, rec, Options{})

	out := d.Classify(context.Background(), news.Article{Title: "Amil"}, candidates())
	if out.Result.Method != news.MethodUnmatched || out.Result.Confidence != 0 || len(out.Result.EntityIDs) != 0 {
		t.Fatalf("expected unmatched degradation, got %+v", out.Result)
	}
	if !strings.Contains(out.Result.Reasoning, "invalid model answer") {
		t.Fatalf("expected error summary in reasoning, got %q", out.Result.Reasoning)
	}
	if !out.Failed || out.Attempts != 1 || len(provider.prompts) != 1 {
		t.Fatalf("expected a single failed attempt, got attempts=%d calls=%d", out.Attempts, len(provider.prompts))
	}
	if len(rec.events) != 1 || rec.events[0].Success {
		t.Fatalf("expected one failed event, got %+v", rec.events)
	}
}

func TestSchemaViolationDegrades(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{answers: []string{`{"entity_ids":["5"],"confidence":2,"reasoning":"x","extra":true}`}}
	d := newTestDisambiguator(provider, nil, Options{})

	got := d.Disambiguate(context.Background(), news.Article{Title: "Amil"}, candidates())
	if got.Method != news.MethodUnmatched {
		t.Fatalf("expected unmatched on schema violation, got %+v", got)
	}
}

func TestTransientErrorIsRetried(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		errs:    []error{&classifier.StatusError{Provider: "stub", Code: 503}},
		answers: []string{"", "```json\n{\"entity_ids\":[7],\"confidence\":0.8,\"reasoning\":\"Amil\"}\n```"},
	}
	rec := &captureRecorder{}
	d := newTestDisambiguator(provider, rec, Options{})

	out := d.Classify(context.Background(), news.Article{Title: "Amil anuncia"}, candidates())
	if fmt.Sprint(out.Result.EntityIDs) != "[7]" || out.Attempts != 2 {
		t.Fatalf("expected success on second attempt, got %+v attempts=%d", out.Result, out.Attempts)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected exactly one event per call, got %d", len(rec.events))
	}
}

func TestRetriesAreBounded(t *testing.T) {
	t.Parallel()

	unavailable := &classifier.StatusError{Provider: "stub", Code: 503}
	provider := &stubProvider{errs: []error{unavailable, unavailable, unavailable}, answers: []string{""}}
	d := newTestDisambiguator(provider, nil, Options{Retry: retry.Policy{MaxAttempts: 2}})

	out := d.Classify(context.Background(), news.Article{Title: "Amil"}, candidates())
	if out.Result.Method != news.MethodUnmatched || len(provider.prompts) != 2 {
		t.Fatalf("expected two attempts then unmatched, got calls=%d result=%+v", len(provider.prompts), out.Result)
	}
}

func TestNoProviderDegradesAndRecords(t *testing.T) {
	t.Parallel()

	rec := &captureRecorder{}
	d := newTestDisambiguator(nil, rec, Options{})

	got := d.Disambiguate(context.Background(), news.Article{Title: "Mercado"}, candidates())
	if got.Method != news.MethodUnmatched || !strings.Contains(got.Reasoning, "not configured") {
		t.Fatalf("unexpected result: %+v", got)
	}
	if len(rec.events) != 1 || rec.events[0].Success {
		t.Fatalf("expected a failed event, got %+v", rec.events)
	}
}

func TestPanickingProviderDegrades(t *testing.T) {
	t.Parallel()

	d := newTestDisambiguator(&stubProvider{panic: true}, nil, Options{})
	out := d.Classify(context.Background(), news.Article{Title: "Mercado"}, candidates())
	if out.Result.Method != news.MethodUnmatched || !out.Failed {
		t.Fatalf("expected panic to degrade to unmatched, got %+v", out)
	}
}

func TestEmptyVerdictIsUnmatched(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{answers: []string{`{"entity_ids":[],"confidence":0.6,"reasoning":"notícia setorial"}`}}
	d := newTestDisambiguator(provider, nil, Options{})

	out := d.Classify(context.Background(), news.Article{Title: "ANS divulga reajuste"}, candidates())
	if out.Result.Method != news.MethodUnmatched || out.Failed {
		t.Fatalf("expected clean unmatched verdict, got %+v", out)
	}
	if out.Result.Reasoning != "notícia setorial" {
		t.Fatalf("expected model reasoning kept, got %q", out.Result.Reasoning)
	}
}

func TestCatalogTruncationKeepsEnabledFirst(t *testing.T) {
	t.Parallel()

	var entities []catalog.Entity
	for i := 1; i <= 250; i++ {
		entities = append(entities, catalog.Entity{
			ID:      int64(i),
			Name:    fmt.Sprintf("Operadora %03d", i),
			Enabled: i > 50,
		})
	}
	provider := &stubProvider{answers: []string{`{"entity_ids":[1,100],"confidence":0.5,"reasoning":"x"}`}}
	d := newTestDisambiguator(provider, nil, Options{PromptLanguage: "en"})

	out := d.Classify(context.Background(), news.Article{Title: "Sector news"}, entities)
	if out.Offered != 200 || out.Truncated != 50 {
		t.Fatalf("expected 200 offered and 50 truncated, got %d/%d", out.Offered, out.Truncated)
	}
	// ID 1 is disabled and fell off the prompt, so it counts as hallucinated.
	if fmt.Sprint(out.Result.EntityIDs) != "[100]" || fmt.Sprint(out.Hallucinated) != "[1]" {
		t.Fatalf("unexpected ids=%v hallucinated=%v", out.Result.EntityIDs, out.Hallucinated)
	}

	user := provider.prompts[0].User
	if got := strings.Count(user, "\nID "); got != 200 {
		t.Fatalf("expected 200 catalog lines in prompt, got %d", got)
	}
	if !strings.HasPrefix(user, "Article:") {
		t.Fatalf("expected english prompt, got %q", user[:20])
	}
}

func TestPromptClipsTitleAndDescription(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{answers: []string{`{"entity_ids":[],"confidence":0,"reasoning":""}`}}
	d := newTestDisambiguator(provider, nil, Options{PromptLanguage: "pt"})

	article := news.Article{
		Title: strings.Repeat("t", 300),
		Body:  strings.Repeat("ç", 900),
	}
	d.Disambiguate(context.Background(), article, candidates())

	user := provider.prompts[0].User
	if strings.Contains(user, strings.Repeat("t", 201)) {
		t.Fatalf("title was not clipped to 200 runes")
	}
	if strings.Contains(user, strings.Repeat("ç", 501)) || !strings.Contains(user, strings.Repeat("ç", 500)) {
		t.Fatalf("description was not clipped to 500 runes")
	}
	if !strings.Contains(user, "ID 5: Bradesco Saúde (termos: Bradesco Seguros)") {
		t.Fatalf("expected catalog line with aliases, got:\n%s", user)
	}
	if strings.Contains(provider.prompts[0].System, "{{") {
		t.Fatalf("system prompt template not rendered")
	}
}

func TestNoCandidatesSkipsCall(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{answers: []string{`{}`}}
	rec := &captureRecorder{}
	d := newTestDisambiguator(provider, rec, Options{})

	out := d.Classify(context.Background(), news.Article{Title: "x"}, []catalog.Entity{{ID: 0, Name: "Geral", Sentinel: true}})
	if out.Result.Method != news.MethodUnmatched || out.Failed {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(provider.prompts) != 0 || len(rec.events) != 0 {
		t.Fatalf("expected no external call")
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &stubProvider{errs: []error{context.Canceled}, answers: []string{""}}
	d := newTestDisambiguator(provider, nil, Options{})

	out := d.Classify(ctx, news.Article{Title: "x"}, candidates())
	if out.Result.Method != news.MethodUnmatched {
		t.Fatalf("expected unmatched, got %+v", out.Result)
	}
	if len(provider.prompts) > 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", len(provider.prompts))
	}
}
