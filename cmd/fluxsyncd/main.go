package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxsync/internal/config"
	"github.com/fluxbase-eu/fluxsync/internal/observability"
	"github.com/fluxbase-eu/fluxsync/internal/pubsub"
	"github.com/fluxbase-eu/fluxsync/internal/replication"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	showVersion    = flag.Bool("version", false, "Show version information")
	validateConfig = flag.Bool("validate", false, "Validate configuration and exit")
	disableListen  = flag.Bool("disable-listener", false, "Disable change ingestion (both LISTEN/NOTIFY and pub/sub consumption)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Fluxsync %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Msg("Starting Fluxsync")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *disableListen {
		cfg.Listener.Enabled = false
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if *validateConfig {
		log.Info().Msg("Configuration is valid")
		os.Exit(0)
	}

	ctx := context.Background()

	tracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.GetMetrics()
		metrics.Serve(cfg.Metrics.Address)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database URL")
	}
	poolCfg.MaxConns = cfg.Database.MaxConnections

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	tables := replication.NewTableRegistry()
	inspector := replication.NewSchemaInspector(pool)
	if err := inspector.RegisterAll(ctx, tables); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap table registry")
	}
	log.Info().Strs("tables", tables.Tables()).Msg("Table registry bootstrapped")

	ps, err := pubsub.New(cfg.PubSub.Backend, cfg.PubSub.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pub/sub")
	}
	defer func() { _ = ps.Close() }()

	applier := replication.NewApplier(tables, metrics, tracer)
	listener := replication.NewListener(pool, applier, ps, metrics)
	if cfg.Listener.Enabled {
		if err := listener.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start replication listener")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	listener.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if metrics != nil {
		_ = metrics.Shutdown(shutdownCtx)
	}
	_ = tracer.Shutdown(shutdownCtx)
}
