package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"horse.fit/insurewatch/internal/events"
)

const (
	DefaultEventListLimit = 100
	MaxEventListLimit     = 1000
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// APIEventFilter narrows ListAPIEvents. Zero fields do not filter.
type APIEventFilter struct {
	EventType string
	APIName   string
	RunID     string
	Success   *bool
	Since     time.Time
	Limit     int
}

// APIEventRow is one stored event.
type APIEventRow struct {
	APIEventID int64 `json:"api_event_id"`
	events.Event
}

// InsertAPIEvent stores one event; it satisfies events.Store.
func (p *Pool) InsertAPIEvent(ctx context.Context, event events.Event) error {
	const q = `
INSERT INTO insurewatch.api_events (
	event_type,
	api_name,
	event_time,
	success,
	detail,
	run_id,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6::uuid, now())
`

	if _, err := p.Exec(
		ctx,
		q,
		event.Type,
		event.API,
		event.Timestamp.UTC(),
		event.Success,
		nullableString(event.Detail),
		nullableString(event.RunID),
	); err != nil {
		return fmt.Errorf("insert api event: %w", err)
	}
	return nil
}

func buildAPIEventsQuery(filter APIEventFilter) (string, []any, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventListLimit
	}
	limit = min(limit, MaxEventListLimit)

	query := psql.
		Select(
			"e.api_event_id",
			"e.event_type",
			"e.api_name",
			"e.event_time",
			"e.success",
			"COALESCE(e.detail, '')",
			"COALESCE(e.run_id::text, '')",
		).
		From("insurewatch.api_events e").
		OrderBy("e.event_time DESC", "e.api_event_id DESC").
		Limit(uint64(limit))

	if v := strings.TrimSpace(filter.EventType); v != "" {
		query = query.Where(sq.Eq{"e.event_type": v})
	}
	if v := strings.TrimSpace(filter.APIName); v != "" {
		query = query.Where(sq.Eq{"e.api_name": v})
	}
	if v := strings.TrimSpace(filter.RunID); v != "" {
		query = query.Where(sq.Expr("e.run_id = ?::uuid", v))
	}
	if filter.Success != nil {
		query = query.Where(sq.Eq{"e.success": *filter.Success})
	}
	if !filter.Since.IsZero() {
		query = query.Where(sq.GtOrEq{"e.event_time": filter.Since.UTC()})
	}

	return query.ToSql()
}

// ListAPIEvents returns recent events, newest first.
func (p *Pool) ListAPIEvents(ctx context.Context, filter APIEventFilter) ([]APIEventRow, error) {
	q, args, err := buildAPIEventsQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("build api events query: %w", err)
	}

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query api events: %w", err)
	}
	defer rows.Close()

	items := make([]APIEventRow, 0, 32)
	for rows.Next() {
		var row APIEventRow
		if err := rows.Scan(
			&row.APIEventID,
			&row.Type,
			&row.API,
			&row.Timestamp,
			&row.Success,
			&row.Detail,
			&row.RunID,
		); err != nil {
			return nil, fmt.Errorf("scan api event row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api event rows: %w", err)
	}

	return items, nil
}

func nullableString(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
