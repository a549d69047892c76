package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/cli"
	"horse.fit/insurewatch/internal/db"
)

func runCatalog(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: insurewatch catalog <import|list> [flags]")
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "import":
		return runCatalogImport(args[1:])
	case "list":
		return runCatalogList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown catalog subcommand: %s\n", args[0])
		return 2
	}
}

func runCatalogImport(args []string) int {
	fs := flag.NewFlagSet("catalog import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "", "YAML catalog file to import (required)")
	dryRun := fs.Bool("dry-run", false, "Validate the file without writing to the database")
	timeout := fs.Duration("timeout", 30*time.Second, "Import timeout")

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

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	entities, err := catalog.LoadFile(strings.TrimSpace(*file))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Catalog import failed: %v\n", err)
		return 1
	}
	cat, err := catalog.New(entities)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Catalog import failed: %v\n", err)
		return 1
	}

	if *dryRun {
		fmt.Printf("catalog valid entities=%d sentinel=%d file=%s\n", cat.Len(), cat.Sentinel().ID, *file)
		return 0
	}

	pool, err := openPool(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("catalog import failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	affected, err := pool.UpsertInsurers(ctx, storedEntities(cat))
	if err != nil {
		logger.Error().Err(err).Str("file", *file).Msg("catalog import failed")
		fmt.Fprintf(os.Stderr, "Catalog import failed: %v\n", err)
		return 1
	}

	logger.Info().
		Str("file", *file).
		Int("entities", cat.Len()).
		Int64("sentinel_id", cat.Sentinel().ID).
		Int64("rows_affected", affected).
		Msg("catalog imported")
	fmt.Printf("catalog imported entities=%d rows_affected=%d\n", cat.Len(), affected)
	return 0
}

// storedEntities is every entity that belongs in the store, the sentinel
// included even when catalog.New synthesized it.
func storedEntities(cat *catalog.Catalog) []catalog.Entity {
	return append(cat.Entities(), cat.Sentinel())
}

func runCatalogList(args []string) int {
	fs := flag.NewFlagSet("catalog list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	format := fs.String("format", "yaml", "Output format: yaml or json")
	timeout := fs.Duration("timeout", 10*time.Second, "Query timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	outputFormat := strings.ToLower(strings.TrimSpace(*format))
	if outputFormat != "yaml" && outputFormat != "json" {
		fmt.Fprintln(os.Stderr, "--format must be yaml or json")
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	var pool *db.Pool
	if strings.TrimSpace(cfg.CatalogFile) == "" {
		p, err := openPool(cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("catalog list failed to connect to database")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer p.Close()
		pool = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cat, err := loadCatalog(ctx, cfg, pool)
	if err != nil {
		logger.Error().Err(err).Msg("catalog list failed")
		fmt.Fprintf(os.Stderr, "Failed to load catalog: %v\n", err)
		return 1
	}

	if err := writeCatalog(os.Stdout, storedEntities(cat), outputFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write catalog: %v\n", err)
		return 1
	}
	return 0
}

func writeCatalog(w io.Writer, entities []catalog.Entity, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]any{"entities": entities})
	}

	raw, err := catalog.MarshalYAML(entities)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}
