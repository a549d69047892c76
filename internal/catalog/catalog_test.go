package catalog

import (
	"errors"
	"strings"
	"testing"
)

func TestNewAddsDefaultSentinel(t *testing.T) {
	t.Parallel()

	c, err := New([]Entity{
		{ID: 10, Name: "Porto Seguro", Enabled: true},
		{ID: 11, Name: "Amil", Aliases: []string{" amil ", "AMIL", ""}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 matchable entities, got %d", c.Len())
	}
	if got := c.Sentinel(); got.ID != DefaultSentinelID || !got.Sentinel {
		t.Fatalf("unexpected sentinel: %+v", got)
	}
	if _, ok := c.Lookup(DefaultSentinelID); !ok {
		t.Fatalf("sentinel should be resolvable by id")
	}
	amil, _ := c.Lookup(11)
	if len(amil.Aliases) != 1 {
		t.Fatalf("expected aliases deduplicated case-insensitively, got %v", amil.Aliases)
	}
}

func TestNewExcludesExplicitSentinelFromEntities(t *testing.T) {
	t.Parallel()

	c, err := New([]Entity{
		{ID: 1, Name: "Geral", Sentinel: true},
		{ID: 2, Name: "SulAmérica"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, entity := range c.Entities() {
		if entity.Sentinel {
			t.Fatalf("sentinel must not be listed as matchable")
		}
	}
	if c.Sentinel().ID != 1 {
		t.Fatalf("expected explicit sentinel id=1, got %d", c.Sentinel().ID)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		entities []Entity
		want     error
	}{
		{name: "empty", entities: nil, want: ErrEmptyCatalog},
		{name: "only sentinel", entities: []Entity{{ID: 1, Name: "Geral", Sentinel: true}}, want: ErrEmptyCatalog},
		{name: "blank name", entities: []Entity{{ID: 1, Name: "  "}}, want: ErrInvalidEntity},
		{name: "duplicate id", entities: []Entity{{ID: 1, Name: "A"}, {ID: 1, Name: "B"}}, want: ErrDuplicateEntity},
		{name: "two sentinels", entities: []Entity{{ID: 1, Name: "A", Sentinel: true}, {ID: 2, Name: "B", Sentinel: true}, {ID: 3, Name: "C"}}, want: ErrSentinelCount},
		{name: "reserved id", entities: []Entity{{ID: DefaultSentinelID, Name: "Zero"}}, want: ErrSentinelCount},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.entities)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPromptOrderEnabledFirstThenName(t *testing.T) {
	t.Parallel()

	ordered := PromptOrder([]Entity{
		{ID: 1, Name: "zeta", Enabled: true},
		{ID: 2, Name: "Alpha", Enabled: false},
		{ID: 3, Name: "beta", Enabled: true},
	})
	got := []int64{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	if got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("unexpected prompt order: %v", got)
	}
}

func TestSubsetKeepsCatalogOrder(t *testing.T) {
	t.Parallel()

	c, err := New([]Entity{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	subset := c.Subset([]int64{3, 1, 99})
	if len(subset) != 2 || subset[0].ID != 1 || subset[1].ID != 3 {
		t.Fatalf("unexpected subset: %+v", subset)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	doc := `
entities:
  - id: 1
    name: Geral
    category: general
    sentinel: true
  - id: 7
    name: Bradesco Saúde
    category: Health
    search_terms: "Bradesco Seguros, BRADESCO SAUDE"
    aliases: ["Bradesco Saúde S.A."]
    ticker: BBDC4
  - id: 8
    name: OdontoPrev
    category: dental
    enabled: false
`
	entities, err := ParseYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(entities))
	}
	if !entities[1].Enabled || entities[2].Enabled {
		t.Fatalf("enabled defaults not applied: %+v", entities)
	}
	if len(entities[1].Aliases) != 3 {
		t.Fatalf("expected list and search_terms aliases merged, got %v", entities[1].Aliases)
	}
	if entities[2].Category != CategoryDental {
		t.Fatalf("unexpected category: %q", entities[2].Category)
	}

	rendered, err := MarshalYAML(entities)
	if err != nil {
		t.Fatalf("MarshalYAML failed: %v", err)
	}
	again, err := ParseYAML(strings.NewReader(string(rendered)))
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if len(again) != 3 || again[1].Name != "Bradesco Saúde" {
		t.Fatalf("unexpected re-parsed entities: %+v", again)
	}
}

func TestParseYAMLRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	_, err := ParseYAML(strings.NewReader("entities:\n  - id: 1\n    name: X\n    category: auto\n"))
	if !errors.Is(err, ErrInvalidEntity) {
		t.Fatalf("expected ErrInvalidEntity, got %v", err)
	}
}
