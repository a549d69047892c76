// Package catalog holds the read-only entity snapshot a matching run works
// against.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Category string

const (
	CategoryHealth    Category = "Health"
	CategoryDental    Category = "Dental"
	CategoryGroupLife Category = "Group Life"
	CategoryGeneral   Category = "General"
)

// DefaultSentinelID is used when a catalog is built without an explicit
// sentinel entity.
const DefaultSentinelID int64 = 0

const DefaultSentinelName = "Geral / Sem correspondência"

var (
	ErrEmptyCatalog    = errors.New("catalog has no matchable entities")
	ErrInvalidEntity   = errors.New("invalid entity")
	ErrDuplicateEntity = errors.New("duplicate entity id")
	ErrSentinelCount   = errors.New("catalog must have exactly one sentinel")
)

// Entity is a tracked insurer.
type Entity struct {
	ID       int64    `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Aliases  []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Category Category `json:"category" yaml:"category"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Sentinel bool     `json:"sentinel,omitempty" yaml:"sentinel,omitempty"`
	Ticker   string   `json:"ticker,omitempty" yaml:"ticker,omitempty"`
}

// Catalog is immutable once built. Entities keep the order they were
// supplied in; that order is the matcher's output order.
type Catalog struct {
	entities []Entity
	sentinel Entity
	byID     map[int64]int
}

// New validates entities and builds a catalog. When no entity is flagged as
// sentinel a default one is added with DefaultSentinelID.
func New(entities []Entity) (*Catalog, error) {
	c := &Catalog{
		entities: make([]Entity, 0, len(entities)),
		byID:     make(map[int64]int, len(entities)+1),
	}

	sentinels := 0
	for i, entity := range entities {
		entity.Name = strings.TrimSpace(entity.Name)
		if entity.Name == "" {
			return nil, fmt.Errorf("%w: entities[%d] id=%d has an empty name", ErrInvalidEntity, i, entity.ID)
		}
		if _, dup := c.byID[entity.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateEntity, entity.ID)
		}
		entity.Aliases = cleanAliases(entity.Aliases)

		if entity.Sentinel {
			sentinels++
			if sentinels > 1 {
				return nil, fmt.Errorf("%w: found another sentinel id=%d", ErrSentinelCount, entity.ID)
			}
			c.sentinel = entity
			c.byID[entity.ID] = -1
			continue
		}

		c.byID[entity.ID] = len(c.entities)
		c.entities = append(c.entities, entity)
	}

	if len(c.entities) == 0 {
		return nil, ErrEmptyCatalog
	}

	if sentinels == 0 {
		if _, taken := c.byID[DefaultSentinelID]; taken {
			return nil, fmt.Errorf("%w: id %d is reserved for the default sentinel", ErrSentinelCount, DefaultSentinelID)
		}
		c.sentinel = Entity{
			ID:       DefaultSentinelID,
			Name:     DefaultSentinelName,
			Category: CategoryGeneral,
			Enabled:  true,
			Sentinel: true,
		}
		c.byID[DefaultSentinelID] = -1
	}

	return c, nil
}

// Entities returns the matchable entities (sentinel excluded) in catalog order.
func (c *Catalog) Entities() []Entity {
	out := make([]Entity, len(c.entities))
	copy(out, c.entities)
	return out
}

func (c *Catalog) Len() int {
	return len(c.entities)
}

func (c *Catalog) Sentinel() Entity {
	return c.sentinel
}

// Lookup finds a matchable entity or the sentinel by id.
func (c *Catalog) Lookup(id int64) (Entity, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Entity{}, false
	}
	if idx < 0 {
		return c.sentinel, true
	}
	return c.entities[idx], true
}

// Subset returns the matchable entities among ids, in catalog order.
func (c *Catalog) Subset(ids []int64) []Entity {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]Entity, 0, len(ids))
	for _, entity := range c.entities {
		if _, ok := want[entity.ID]; ok {
			out = append(out, entity)
		}
	}
	return out
}

// PromptOrder returns entities ordered for a size-limited prompt: enabled
// first, then by lowercase name, then id.
func PromptOrder(entities []Entity) []Entity {
	out := make([]Entity, len(entities))
	copy(out, entities)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Enabled != out[j].Enabled {
			return out[i].Enabled
		}
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SplitSearchTerms parses the comma separated alias column used by the
// entity store.
func SplitSearchTerms(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return cleanAliases(strings.Split(raw, ","))
}

// JoinSearchTerms is the inverse of SplitSearchTerms.
func JoinSearchTerms(aliases []string) string {
	return strings.Join(cleanAliases(aliases), ", ")
}

func cleanAliases(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, alias := range raw {
		trimmed := strings.TrimSpace(alias)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseCategory accepts the category labels used by the entity store,
// case-insensitively.
func ParseCategory(raw string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "health", "saude", "saúde":
		return CategoryHealth, nil
	case "dental", "odonto", "odontologico", "odontológico":
		return CategoryDental, nil
	case "group life", "group_life", "vida em grupo":
		return CategoryGroupLife, nil
	case "general", "geral", "":
		return CategoryGeneral, nil
	default:
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidEntity, raw)
	}
}
