package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"horse.fit/insurewatch/internal/cli"
	"horse.fit/insurewatch/internal/db"
	"horse.fit/insurewatch/internal/pipeline"
	"horse.fit/insurewatch/internal/source"
)

func runMatch(args []string) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "", "Article batch file, JSON array or JSONL (required)")
	persist := fs.Bool("persist", false, "Store the run and its results in the database")
	fetchBodies := fs.Bool("fetch-bodies", false, "Fetch article pages for items without body or snippet")
	fetchConcurrency := fs.Int("fetch-concurrency", 4, "Parallel page fetches for --fetch-bodies")
	compact := fs.Bool("compact", false, "Print compact JSON instead of indented JSON")
	timeout := fs.Duration("timeout", 15*time.Minute, "Overall run timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}
	if *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "--timeout must be > 0")
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	articles, err := source.ReadFile(strings.TrimSpace(*file), source.Options{})
	if err != nil {
		logger.Error().Err(err).Str("file", *file).Msg("read article batch failed")
		fmt.Fprintf(os.Stderr, "Failed to read article batch: %v\n", err)
		return 1
	}

	// The database also backs the event log, so it is used whenever configured.
	var pool *db.Pool
	if *persist || strings.TrimSpace(cfg.DatabaseURL) != "" || strings.TrimSpace(cfg.CatalogFile) == "" {
		p, err := openPool(cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("match failed to connect to database")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer p.Close()
		pool = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if *fetchBodies {
		filled := source.FillMissingBodies(ctx, articles, source.FetchOptions{Concurrency: *fetchConcurrency}, logger)
		logger.Info().Int("filled", filled).Int("articles", len(articles)).Msg("body backfill finished")
	}

	cat, err := loadCatalog(ctx, cfg, pool)
	if err != nil {
		logger.Error().Err(err).Msg("load catalog failed")
		fmt.Fprintf(os.Stderr, "Failed to load catalog: %v\n", err)
		return 1
	}

	run, err := newPipeline(cfg, pool, logger).Run(ctx, articles, cat)
	if err != nil {
		logger.Error().Err(err).Str("file", *file).Msg("match run rejected")
		fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
		return 1
	}

	if *persist {
		saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer saveCancel()
		if err := pool.SaveRun(saveCtx, run); err != nil {
			logger.Error().Err(err).Str("run_id", run.RunID).Msg("persist run failed")
			fmt.Fprintf(os.Stderr, "Failed to persist run: %v\n", err)
			return 1
		}
		logger.Info().Str("run_id", run.RunID).Int("results", len(run.Results)).Msg("run persisted")
	}

	if err := writeRun(os.Stdout, run, !*compact); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write results: %v\n", err)
		return 1
	}
	return 0
}

func writeRun(w io.Writer, run pipeline.RunResult, indent bool) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(run)
}
