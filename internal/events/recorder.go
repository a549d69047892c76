// Package events records one cost-monitoring event per external AI call.
// Recording is a side channel: it never reports failure to the caller.
package events

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/insurewatch/internal/globaltime"
)

const (
	TypeAIMatch   = "ai_match"
	APIAIMatcher  = "ai_matcher"
	MaxDetailSize = 500

	defaultStoreTimeout = 5 * time.Second
)

// Event is one external-call record.
type Event struct {
	Type      string    `json:"event_type"`
	API       string    `json:"api_name"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
}

// Recorder is the sink the disambiguator writes to.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Store persists events; db.Pool satisfies it.
type Store interface {
	InsertAPIEvent(ctx context.Context, event Event) error
}

// Detail renders metadata as compact JSON clipped to MaxDetailSize bytes.
func Detail(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return clip(string(raw), MaxDetailSize)
}

func clip(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func prepare(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = globaltime.UTC()
	}
	event.Detail = clip(event.Detail, MaxDetailSize)
	return event
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// LogRecorder writes events to the structured log.
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With().Str("component", "events").Logger()}
}

func (r *LogRecorder) Record(_ context.Context, event Event) {
	e := prepare(event)
	r.logger.Info().
		Str("event_type", e.Type).
		Str("api_name", e.API).
		Bool("success", e.Success).
		Str("run_id", e.RunID).
		Str("detail", e.Detail).
		Time("event_time", e.Timestamp).
		Msg("api event")
}

// StoreRecorder persists events with its own deadline so a slow or failing
// store cannot hold up or fail the calling flow.
type StoreRecorder struct {
	store   Store
	logger  zerolog.Logger
	timeout time.Duration
}

func NewStoreRecorder(store Store, logger zerolog.Logger) *StoreRecorder {
	return &StoreRecorder{
		store:   store,
		logger:  logger.With().Str("component", "events").Logger(),
		timeout: defaultStoreTimeout,
	}
}

func (r *StoreRecorder) Record(ctx context.Context, event Event) {
	if r == nil || r.store == nil {
		return
	}
	e := prepare(event)

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Warn().Interface("panic", recovered).Str("event_type", e.Type).Msg("event store panicked; event dropped")
		}
	}()

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.InsertAPIEvent(storeCtx, e); err != nil {
		r.logger.Warn().Err(err).Str("event_type", e.Type).Bool("success", e.Success).Msg("failed to record api event")
	}
}

// Multi fans one event out to several recorders.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, event Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, event)
		}
	}
}

type runIDKey struct{}

// WithRunID tags ctx so recorders downstream can attribute events to a run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	runID, _ := ctx.Value(runIDKey{}).(string)
	return runID
}
