package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	HTTPAddr           string `envconfig:"HTTP_ADDR" default:"127.0.0.1:8090"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`

	// CatalogFile switches the entity store from the database to a YAML file.
	CatalogFile string `envconfig:"CATALOG_FILE"`

	MatchMinNameLength int `envconfig:"MATCH_MIN_NAME_LENGTH" default:"4"`
	MatchFanOutCap     int `envconfig:"MATCH_FANOUT_CAP" default:"3"`

	AIProvider          string        `envconfig:"AI_PROVIDER" default:"anthropic"`
	AIModel             string        `envconfig:"AI_MODEL"`
	AIAPIKey            string        `envconfig:"AI_API_KEY"`
	AnthropicAPIKey     string        `envconfig:"ANTHROPIC_API_KEY"`
	AIBaseURL           string        `envconfig:"AI_BASE_URL"`
	AIPromptLanguage    string        `envconfig:"AI_PROMPT_LANGUAGE" default:"auto"`
	AIMaxCatalogEntries int           `envconfig:"AI_MAX_CATALOG_ENTRIES" default:"200"`
	AIMaxAttempts       int           `envconfig:"AI_MAX_ATTEMPTS" default:"2"`
	AITimeout           time.Duration `envconfig:"AI_TIMEOUT" default:"30s"`
	AIRequestsPerMinute int           `envconfig:"AI_REQUESTS_PER_MINUTE" default:"0"`
	AIConcurrency       int           `envconfig:"AI_CONCURRENCY" default:"1"`

	EmbeddingEndpoint  string        `envconfig:"EMBEDDING_ENDPOINT"`
	EmbeddingModel     string        `envconfig:"EMBEDDING_MODEL"`
	EmbeddingTimeout   time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"45s"`
	EmbeddingBatchSize int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"32"`
	DedupThreshold     float64       `envconfig:"DEDUP_THRESHOLD" default:"0.85"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.MatchMinNameLength < 1 {
		return fmt.Errorf("MATCH_MIN_NAME_LENGTH must be >= 1")
	}
	if c.MatchFanOutCap < 1 {
		return fmt.Errorf("MATCH_FANOUT_CAP must be >= 1")
	}
	if c.AIMaxCatalogEntries < 1 {
		return fmt.Errorf("AI_MAX_CATALOG_ENTRIES must be >= 1")
	}
	if c.AIMaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be >= 1")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be > 0")
	}
	if c.AIRequestsPerMinute < 0 {
		return fmt.Errorf("AI_REQUESTS_PER_MINUTE must be >= 0")
	}
	if c.AIConcurrency < 1 {
		return fmt.Errorf("AI_CONCURRENCY must be >= 1")
	}
	switch strings.ToLower(strings.TrimSpace(c.AIPromptLanguage)) {
	case "auto", "pt", "en":
	default:
		return fmt.Errorf("AI_PROMPT_LANGUAGE must be auto, pt or en")
	}
	if c.EmbeddingBatchSize < 1 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be >= 1")
	}
	if c.EmbeddingTimeout <= 0 {
		return fmt.Errorf("EMBEDDING_TIMEOUT must be > 0")
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("DEDUP_THRESHOLD must be in (0, 1]")
	}
	return nil
}

// RequireDatabase is checked by commands that cannot run without Postgres.
func (c *Config) RequireDatabase() error {
	if c == nil || strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// ResolvedAIAPIKey prefers AI_API_KEY and falls back to ANTHROPIC_API_KEY.
func (c *Config) ResolvedAIAPIKey() string {
	if c == nil {
		return ""
	}
	if key := strings.TrimSpace(c.AIAPIKey); key != "" {
		return key
	}
	return strings.TrimSpace(c.AnthropicAPIKey)
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
