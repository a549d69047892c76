package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type fileEntity struct {
	ID       int64    `yaml:"id"`
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases,omitempty"`
	Terms    string   `yaml:"search_terms,omitempty"`
	Category string   `yaml:"category"`
	Enabled  *bool    `yaml:"enabled,omitempty"`
	Sentinel bool     `yaml:"sentinel,omitempty"`
	Ticker   string   `yaml:"ticker,omitempty"`
}

type fileCatalog struct {
	Entities []fileEntity `yaml:"entities"`
}

// LoadFile reads entities from a YAML catalog file.
func LoadFile(path string) ([]Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()

	entities, err := ParseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return entities, nil
}

// ParseYAML decodes a catalog document. Aliases may be given either as a
// list or as a comma separated search_terms string; both are merged.
// Entities default to enabled.
func ParseYAML(r io.Reader) ([]Entity, error) {
	var doc fileCatalog
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	entities := make([]Entity, 0, len(doc.Entities))
	for i, raw := range doc.Entities {
		category, err := ParseCategory(raw.Category)
		if err != nil {
			return nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		enabled := true
		if raw.Enabled != nil {
			enabled = *raw.Enabled
		}
		aliases := append([]string{}, raw.Aliases...)
		aliases = append(aliases, SplitSearchTerms(raw.Terms)...)

		entities = append(entities, Entity{
			ID:       raw.ID,
			Name:     raw.Name,
			Aliases:  cleanAliases(aliases),
			Category: category,
			Enabled:  enabled,
			Sentinel: raw.Sentinel,
			Ticker:   raw.Ticker,
		})
	}
	return entities, nil
}

// MarshalYAML renders entities in the same document shape ParseYAML reads.
func MarshalYAML(entities []Entity) ([]byte, error) {
	doc := fileCatalog{Entities: make([]fileEntity, 0, len(entities))}
	for _, entity := range entities {
		enabled := entity.Enabled
		doc.Entities = append(doc.Entities, fileEntity{
			ID:       entity.ID,
			Name:     entity.Name,
			Aliases:  entity.Aliases,
			Category: string(entity.Category),
			Enabled:  &enabled,
			Sentinel: entity.Sentinel,
			Ticker:   entity.Ticker,
		})
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close yaml encoder: %w", err)
	}
	return buf.Bytes(), nil
}
