package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"horse.fit/insurewatch/internal/news"
	"horse.fit/insurewatch/internal/pipeline"
)

const (
	DefaultMatchListLimit = 200
	MaxMatchListLimit     = 5000

	matchInsertBatch = 200
)

var ErrRunNotFound = errors.New("run not found")

// StoredRun is a persisted run with its results in output order.
type StoredRun struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Stats      pipeline.Stats     `json:"stats"`
	Results    []news.MatchResult `json:"results"`
}

// ArticleMatchFilter narrows ListArticleMatches. Zero fields do not filter.
type ArticleMatchFilter struct {
	RunID    string
	EntityID *int64
	Method   news.Method
	Since    time.Time
	Limit    int
}

// StoredMatch is one persisted result row.
type StoredMatch struct {
	RunID    string `json:"run_id"`
	Position int    `json:"position"`
	news.MatchResult
}

// SaveRun persists a finished run and all of its results atomically.
func (p *Pool) SaveRun(ctx context.Context, run pipeline.RunResult) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("encode run stats: %w", err)
	}

	const insertRun = `
INSERT INTO insurewatch.match_runs (
	run_id,
	started_at,
	finished_at,
	input_count,
	survivor_count,
	exact_name_count,
	ai_count,
	unmatched_count,
	ai_failures,
	hallucinated_ids,
	semantic_skipped,
	stats,
	created_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, now())
`

	return p.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.Exec(
			ctx,
			insertRun,
			run.RunID,
			run.StartedAt.UTC(),
			run.FinishedAt.UTC(),
			run.Stats.Input,
			run.Stats.Survivors,
			run.Stats.ExactName,
			run.Stats.AI,
			run.Stats.Unmatched,
			run.Stats.AIFailures,
			run.Stats.Hallucinated,
			run.Stats.SemanticSkipped,
			string(stats),
		); err != nil {
			return fmt.Errorf("insert match run: %w", err)
		}

		for start := 0; start < len(run.Results); start += matchInsertBatch {
			end := min(start+matchInsertBatch, len(run.Results))
			q, args, err := buildMatchInsert(run.RunID, start, run.Results[start:end])
			if err != nil {
				return fmt.Errorf("build article match insert: %w", err)
			}
			if _, err := tx.Exec(ctx, q, args...); err != nil {
				return fmt.Errorf("insert article matches: %w", err)
			}
		}
		return nil
	})
}

func buildMatchInsert(runID string, offset int, results []news.MatchResult) (string, []any, error) {
	insert := psql.
		Insert("insurewatch.article_matches").
		Columns(
			"run_id",
			"position",
			"title",
			"url",
			"source",
			"published_at",
			"entity_ids",
			"method",
			"confidence",
			"reasoning",
			"sources",
		)

	for i, result := range results {
		ids, err := json.Marshal(nonNilIDs(result.EntityIDs))
		if err != nil {
			return "", nil, err
		}
		sources, err := json.Marshal(nonNilStrings(result.Sources))
		if err != nil {
			return "", nil, err
		}
		insert = insert.Values(
			sq.Expr("?::uuid", runID),
			offset+i,
			result.Article.Title,
			nullableString(result.Article.URL),
			nullableString(result.Article.Source),
			result.Article.PublishedAt,
			sq.Expr("?::jsonb", string(ids)),
			string(result.Method),
			result.Confidence,
			nullableString(result.Reasoning),
			sq.Expr("?::jsonb", string(sources)),
		)
	}
	return insert.ToSql()
}

// GetRun loads one run with its results.
func (p *Pool) GetRun(ctx context.Context, runID string) (*StoredRun, error) {
	const q = `
SELECT
	r.run_id::text,
	r.started_at,
	r.finished_at,
	r.stats
FROM insurewatch.match_runs r
WHERE r.run_id = $1::uuid
`

	var (
		run   StoredRun
		stats []byte
	)
	err := p.QueryRow(ctx, q, strings.TrimSpace(runID)).Scan(&run.RunID, &run.StartedAt, &run.FinishedAt, &stats)
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("query match run: %w", err)
	}
	if err := json.Unmarshal(stats, &run.Stats); err != nil {
		return nil, fmt.Errorf("decode run stats: %w", err)
	}

	matches, err := p.ListArticleMatches(ctx, ArticleMatchFilter{RunID: run.RunID, Limit: MaxMatchListLimit})
	if err != nil {
		return nil, err
	}
	run.Results = make([]news.MatchResult, 0, len(matches))
	for _, m := range matches {
		run.Results = append(run.Results, m.MatchResult)
	}
	return &run, nil
}

func buildArticleMatchesQuery(filter ArticleMatchFilter) (string, []any, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultMatchListLimit
	}
	limit = min(limit, MaxMatchListLimit)

	query := psql.
		Select(
			"m.run_id::text",
			"m.position",
			"m.title",
			"COALESCE(m.url, '')",
			"COALESCE(m.source, '')",
			"m.published_at",
			"m.entity_ids",
			"m.method",
			"m.confidence",
			"COALESCE(m.reasoning, '')",
			"m.sources",
		).
		From("insurewatch.article_matches m").
		Limit(uint64(limit))

	if v := strings.TrimSpace(filter.RunID); v != "" {
		query = query.Where(sq.Expr("m.run_id = ?::uuid", v)).OrderBy("m.position")
	} else {
		query = query.OrderBy("m.created_at DESC", "m.run_id", "m.position")
	}
	if filter.EntityID != nil {
		// gorm treats "@" in raw SQL as a named parameter, so no @> here.
		query = query.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM jsonb_array_elements_text(m.entity_ids) AS e(id) WHERE e.id = ?)",
			fmt.Sprintf("%d", *filter.EntityID),
		))
	}
	if filter.Method != "" {
		query = query.Where(sq.Eq{"m.method": string(filter.Method)})
	}
	if !filter.Since.IsZero() {
		query = query.Where(sq.GtOrEq{"m.created_at": filter.Since.UTC()})
	}

	return query.ToSql()
}

// ListArticleMatches returns stored results for downstream consumers.
func (p *Pool) ListArticleMatches(ctx context.Context, filter ArticleMatchFilter) ([]StoredMatch, error) {
	q, args, err := buildArticleMatchesQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("build article matches query: %w", err)
	}

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query article matches: %w", err)
	}
	defer rows.Close()

	items := make([]StoredMatch, 0, 64)
	for rows.Next() {
		var (
			row     StoredMatch
			method  string
			ids     []byte
			sources []byte
		)
		if err := rows.Scan(
			&row.RunID,
			&row.Position,
			&row.Article.Title,
			&row.Article.URL,
			&row.Article.Source,
			&row.Article.PublishedAt,
			&ids,
			&method,
			&row.Confidence,
			&row.Reasoning,
			&sources,
		); err != nil {
			return nil, fmt.Errorf("scan article match row: %w", err)
		}
		row.Method = news.Method(method)
		if err := json.Unmarshal(ids, &row.EntityIDs); err != nil {
			return nil, fmt.Errorf("decode entity ids: %w", err)
		}
		if err := json.Unmarshal(sources, &row.Sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article match rows: %w", err)
	}

	return items, nil
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
