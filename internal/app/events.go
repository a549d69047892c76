package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"horse.fit/insurewatch/internal/cli"
	"horse.fit/insurewatch/internal/db"
	"horse.fit/insurewatch/internal/globaltime"
)

func runEvents(args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	eventType := fs.String("type", "", "Filter by event type")
	apiName := fs.String("api", "", "Filter by API name")
	runID := fs.String("run", "", "Filter by run id")
	failedOnly := fs.Bool("failed", false, "Only show failed calls")
	since := fs.Duration("since", 24*time.Hour, "Only show events newer than this; 0 disables the filter")
	limit := fs.Int("limit", db.DefaultEventListLimit, "Maximum number of events")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 || *limit > db.MaxEventListLimit {
		fmt.Fprintf(os.Stderr, "--limit must be between 1 and %d\n", db.MaxEventListLimit)
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	pool, err := openPool(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("events failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	filter := db.APIEventFilter{
		EventType: strings.TrimSpace(*eventType),
		APIName:   strings.TrimSpace(*apiName),
		RunID:     strings.TrimSpace(*runID),
		Limit:     *limit,
	}
	if *failedOnly {
		success := false
		filter.Success = &success
	}
	if *since > 0 {
		filter.Since = globaltime.UTC().Add(-*since)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.ListAPIEvents(ctx, filter)
	if err != nil {
		logger.Error().Err(err).Msg("list api events failed")
		fmt.Fprintf(os.Stderr, "Failed to list events: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTYPE\tAPI\tOK\tRUN\tDETAIL")
	for _, row := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
			row.APIEventID,
			row.Timestamp.UTC().Format(time.RFC3339),
			row.Type,
			row.API,
			row.Success,
			row.RunID,
			row.Detail,
		)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write events: %v\n", err)
		return 1
	}
	return 0
}
