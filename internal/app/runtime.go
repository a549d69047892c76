package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/classifier"
	"horse.fit/insurewatch/internal/cli"
	"horse.fit/insurewatch/internal/config"
	"horse.fit/insurewatch/internal/db"
	"horse.fit/insurewatch/internal/dedup"
	"horse.fit/insurewatch/internal/disambiguate"
	"horse.fit/insurewatch/internal/embedding"
	"horse.fit/insurewatch/internal/events"
	"horse.fit/insurewatch/internal/logging"
	"horse.fit/insurewatch/internal/pipeline"
	"horse.fit/insurewatch/internal/retry"
)

const dbConnectTimeout = 10 * time.Second

// bootstrap loads the env file, config and logger shared by every command.
// On failure it has already printed the reason and ok is false.
func bootstrap(envLoader *cli.EnvLoader) (cfg *config.Config, logger zerolog.Logger, ok bool) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, logger, false
	}

	logger, err = logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, logger, false
	}
	return cfg, logger, true
}

func openPool(cfg *config.Config, logger zerolog.Logger) (*db.Pool, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbConnectTimeout)
	defer cancel()
	return db.NewPool(ctx, cfg, logger)
}

// loadCatalog prefers CATALOG_FILE and falls back to the insurers table.
func loadCatalog(ctx context.Context, cfg *config.Config, pool *db.Pool) (*catalog.Catalog, error) {
	if path := strings.TrimSpace(cfg.CatalogFile); path != "" {
		entities, err := catalog.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return catalog.New(entities)
	}
	if pool == nil {
		return nil, fmt.Errorf("no entity store: set CATALOG_FILE or DATABASE_URL")
	}
	return pool.LoadCatalog(ctx)
}

func newRecorder(pool *db.Pool, logger zerolog.Logger) events.Recorder {
	recorders := events.Multi{events.NewLogRecorder(logger)}
	if pool != nil {
		recorders = append(recorders, events.NewStoreRecorder(pool, logger))
	}
	return recorders
}

// newProvider returns nil when the configured provider cannot be built; the
// disambiguator then degrades every call to unmatched.
func newProvider(cfg *config.Config, logger zerolog.Logger) classifier.Provider {
	registry := classifier.NewRegistryFromSettings(classifier.Settings{
		Provider: cfg.AIProvider,
		Model:    cfg.AIModel,
		APIKey:   cfg.ResolvedAIAPIKey(),
		BaseURL:  cfg.AIBaseURL,
	})
	provider, err := registry.Provider(cfg.AIProvider)
	if err != nil {
		logger.Warn().Err(err).Str("provider", cfg.AIProvider).Msg("ai provider unavailable; ai-bound articles will be unmatched")
		return nil
	}
	return provider
}

func newDeduplicator(cfg *config.Config, logger zerolog.Logger) *dedup.Deduplicator {
	var embedder dedup.Embedder
	if endpoint := strings.TrimSpace(cfg.EmbeddingEndpoint); endpoint != "" {
		embedder = embedding.NewClient(embedding.Options{
			Endpoint:       endpoint,
			ModelName:      cfg.EmbeddingModel,
			BatchSize:      cfg.EmbeddingBatchSize,
			RequestTimeout: cfg.EmbeddingTimeout,
		})
	}
	return dedup.New(embedder, logger, dedup.Options{Threshold: cfg.DedupThreshold})
}

// newPipeline wires the full matching service from config.
func newPipeline(cfg *config.Config, pool *db.Pool, logger zerolog.Logger) *pipeline.Service {
	ai := disambiguate.New(newProvider(cfg, logger), newRecorder(pool, logger), logger, disambiguate.Options{
		MaxCatalogEntries: cfg.AIMaxCatalogEntries,
		FanOutCap:         cfg.MatchFanOutCap,
		PromptLanguage:    cfg.AIPromptLanguage,
		Timeout:           cfg.AITimeout,
		Retry:             retry.Policy{MaxAttempts: cfg.AIMaxAttempts},
		RequestsPerMinute: cfg.AIRequestsPerMinute,
	})

	return pipeline.NewService(newDeduplicator(cfg, logger), ai, logger, pipeline.Options{
		FanOutCap:     cfg.MatchFanOutCap,
		MinNameLength: cfg.MatchMinNameLength,
		AIConcurrency: cfg.AIConcurrency,
	})
}
