package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/cli"
	"horse.fit/insurewatch/internal/db"
	"horse.fit/insurewatch/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Host interface to bind (default from HTTP_ADDR)")
	port := fs.Int("port", 0, "HTTP port (default from HTTP_ADDR)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 5*time.Minute, "HTTP write timeout; bounds synchronous runs")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	maxBatch := fs.Int("max-batch", 5000, "Maximum articles accepted by one run request")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port < 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	bindHost, bindPort, err := resolveListenAddr(cfg.HTTPAddr, *host, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid listen address: %v\n", err)
		return 2
	}

	var (
		pool  *db.Pool
		store httpapi.Store
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		p, err := openPool(cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("serve failed to connect to database")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer p.Close()
		pool = p
		store = p
	}

	// Fail fast on a broken entity store rather than on the first request.
	checkCtx, checkCancel := context.WithTimeout(context.Background(), dbConnectTimeout)
	_, err = loadCatalog(checkCtx, cfg, pool)
	checkCancel()
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to load catalog")
		fmt.Fprintf(os.Stderr, "Failed to load catalog: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	catalogLoader := func(ctx context.Context) (*catalog.Catalog, error) {
		return loadCatalog(ctx, cfg, pool)
	}

	srv := httpapi.NewServer(store, newPipeline(cfg, pool, logger), catalogLoader, logger, httpapi.Options{
		Host:            bindHost,
		Port:            bindPort,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		AllowedOrigins:  cfg.CORSAllowedOriginsList(),
		MaxBatch:        *maxBatch,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", bindHost).Int("port", bindPort).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}

// resolveListenAddr lets --host and --port override parts of HTTP_ADDR.
func resolveListenAddr(httpAddr, host string, port int) (string, int, error) {
	defaultHost, rawPort, err := net.SplitHostPort(strings.TrimSpace(httpAddr))
	if err != nil {
		return "", 0, fmt.Errorf("HTTP_ADDR=%q: %w", httpAddr, err)
	}
	defaultPort, err := strconv.Atoi(rawPort)
	if err != nil || defaultPort <= 0 || defaultPort > 65535 {
		return "", 0, fmt.Errorf("HTTP_ADDR=%q: invalid port", httpAddr)
	}

	if h := strings.TrimSpace(host); h != "" {
		defaultHost = h
	}
	if port > 0 {
		defaultPort = port
	}
	return defaultHost, defaultPort, nil
}
