package db

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/insurewatch/internal/catalog"
)

// ListInsurers returns every stored entity, sentinel included, in id order.
func (p *Pool) ListInsurers(ctx context.Context) ([]catalog.Entity, error) {
	const q = `
SELECT
	i.insurer_id,
	i.name,
	i.search_terms,
	i.category,
	i.enabled,
	i.sentinel,
	i.ticker
FROM insurewatch.insurers i
ORDER BY i.insurer_id
`

	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query insurers: %w", err)
	}
	defer rows.Close()

	entities := make([]catalog.Entity, 0, 256)
	for rows.Next() {
		var (
			entity      catalog.Entity
			searchTerms string
			category    string
			ticker      *string
		)
		if err := rows.Scan(
			&entity.ID,
			&entity.Name,
			&searchTerms,
			&category,
			&entity.Enabled,
			&entity.Sentinel,
			&ticker,
		); err != nil {
			return nil, fmt.Errorf("scan insurer row: %w", err)
		}
		entity.Aliases = catalog.SplitSearchTerms(searchTerms)
		entity.Category = catalog.Category(category)
		if ticker != nil {
			entity.Ticker = *ticker
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insurer rows: %w", err)
	}

	return entities, nil
}

// LoadCatalog snapshots the entity store into a validated catalog.
func (p *Pool) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	entities, err := p.ListInsurers(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.New(entities)
}

// UpsertInsurers inserts or updates entities by id in one transaction. An
// imported sentinel replaces any previously stored one.
func (p *Pool) UpsertInsurers(ctx context.Context, entities []catalog.Entity) (int64, error) {
	if len(entities) == 0 {
		return 0, nil
	}

	const clearSentinel = `
UPDATE insurewatch.insurers
SET sentinel = FALSE, updated_at = now()
WHERE sentinel AND insurer_id <> $1
`

	const upsert = `
INSERT INTO insurewatch.insurers (
	insurer_id,
	name,
	search_terms,
	category,
	enabled,
	sentinel,
	ticker,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (insurer_id) DO UPDATE SET
	name = EXCLUDED.name,
	search_terms = EXCLUDED.search_terms,
	category = EXCLUDED.category,
	enabled = EXCLUDED.enabled,
	sentinel = EXCLUDED.sentinel,
	ticker = EXCLUDED.ticker,
	updated_at = now()
`

	var affected int64
	err := p.WithTx(ctx, func(tx Tx) error {
		for _, entity := range entities {
			if entity.Sentinel {
				if _, err := tx.Exec(ctx, clearSentinel, entity.ID); err != nil {
					return fmt.Errorf("clear previous sentinel: %w", err)
				}
			}

			var ticker *string
			if t := strings.TrimSpace(entity.Ticker); t != "" {
				ticker = &t
			}
			category := entity.Category
			switch {
			case category != "":
			case entity.Sentinel:
				category = catalog.CategoryGeneral
			default:
				category = catalog.CategoryHealth
			}

			tag, err := tx.Exec(
				ctx,
				upsert,
				entity.ID,
				strings.TrimSpace(entity.Name),
				catalog.JoinSearchTerms(entity.Aliases),
				string(category),
				entity.Enabled,
				entity.Sentinel,
				ticker,
			)
			if err != nil {
				return fmt.Errorf("upsert insurer %d: %w", entity.ID, err)
			}
			affected += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
