package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed article.schema.json
var articleSchemaJSON string

//go:embed verdict.schema.json
var verdictSchemaJSON string

// ArticlePayload is one article as delivered by an article source.
type ArticlePayload struct {
	Title          string         `json:"title"`
	Description    *string        `json:"description,omitempty"`
	BodyText       *string        `json:"body_text,omitempty"`
	BodyHTML       *string        `json:"body_html,omitempty"`
	URL            *string        `json:"url,omitempty"`
	PublishedAt    *string        `json:"published_at,omitempty"`
	Source         *string        `json:"source,omitempty"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
}

// PublishedTime parses published_at; nil when absent.
func (p *ArticlePayload) PublishedTime() *time.Time {
	if p == nil || p.PublishedAt == nil {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*p.PublishedAt))
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

// Verdict is the structured answer of the AI disambiguation call.
type Verdict struct {
	EntityIDs  []int64 `json:"entity_ids"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type compiledSchema struct {
	name   string
	source *string
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

var (
	articleSchema = &compiledSchema{name: "article.schema.json", source: &articleSchemaJSON}
	verdictSchema = &compiledSchema{name: "verdict.schema.json", source: &verdictSchemaJSON}
)

// ValidateArticlePayload decodes and validates one raw article.
func ValidateArticlePayload(payload json.RawMessage) (*ArticlePayload, error) {
	var item ArticlePayload
	if err := validateInto(articleSchema, payload, &item); err != nil {
		return nil, err
	}
	if err := validateArticleSemantics(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ParseVerdict validates a model answer against the verdict schema. Markdown
// code fences and prose around the JSON object are tolerated; anything else
// about the shape is not.
func ParseVerdict(raw []byte) (*Verdict, error) {
	object, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var verdict Verdict
	if err := validateInto(verdictSchema, object, &verdict); err != nil {
		return nil, err
	}
	verdict.Reasoning = strings.TrimSpace(verdict.Reasoning)
	return &verdict, nil
}

func validateInto(cs *compiledSchema, payload []byte, out any) error {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := cs.load()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func (cs *compiledSchema) load() (*jsonschema.Schema, error) {
	cs.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(cs.name, strings.NewReader(*cs.source)); err != nil {
			cs.err = fmt.Errorf("add schema resource %s: %w", cs.name, err)
			return
		}

		schema, err := compiler.Compile(cs.name)
		if err != nil {
			cs.err = fmt.Errorf("compile schema %s: %w", cs.name, err)
			return
		}
		cs.schema = schema
	})

	if cs.err != nil {
		return nil, cs.err
	}
	if cs.schema == nil {
		return nil, fmt.Errorf("schema %s not initialized", cs.name)
	}
	return cs.schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func extractJSONObject(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("response is empty")
	}
	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("response contains no JSON object")
	}
	return trimmed[start : end+1], nil
}

func validateArticleSemantics(item *ArticlePayload) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}
	if item.URL != nil {
		if err := validateURI("url", *item.URL); err != nil {
			return err
		}
	}
	if item.PublishedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*item.PublishedAt)); err != nil {
			return fmt.Errorf("published_at must be RFC3339: %w", err)
		}
	}
	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	return nil
}
