package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/cascadiahydro/flood-aep-etl/internal/adapter/checkpoint"
	"github.com/cascadiahydro/flood-aep-etl/internal/adapter/csvtable"
	"github.com/cascadiahydro/flood-aep-etl/internal/adapter/gagestats"
	httpadapter "github.com/cascadiahydro/flood-aep-etl/internal/adapter/http"
	kafkaadapter "github.com/cascadiahydro/flood-aep-etl/internal/adapter/kafka"
	"github.com/cascadiahydro/flood-aep-etl/internal/adapter/retro"
	"github.com/cascadiahydro/flood-aep-etl/internal/batch"
	"github.com/cascadiahydro/flood-aep-etl/internal/config"
	"github.com/cascadiahydro/flood-aep-etl/internal/observability"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file (default: $AEPETL_CONFIG)")
		startIndex = flag.Int64("start-index", -1, "first site index to process; -1 resumes from the ledger")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	runID := uuid.NewString()

	sites, err := csvtable.LoadSiteList(cfg.SiteListPath)
	if err != nil {
		logger.Error("failed to load site list", "error", err, "path", cfg.SiteListPath)
		os.Exit(1)
	}
	logger.Info("site list loaded", "path", cfg.SiteListPath, "sites", len(sites))

	store, err := retro.Open(cfg.RetroDBPath, cfg.RetroTable, logger)
	if err != nil {
		logger.Error("failed to open retrospective db", "error", err, "path", cfg.RetroDBPath)
		os.Exit(1)
	}

	ledger, err := checkpoint.Open(cfg.LedgerDBPath, logger)
	if err != nil {
		logger.Error("failed to open resume ledger", "error", err, "path", cfg.LedgerDBPath)
		os.Exit(1)
	}

	lastIndex, found, err := ledger.Load(context.Background(), cfg.Area)
	if err != nil {
		logger.Error("failed to read resume ledger", "error", err, "area", cfg.Area)
		os.Exit(1)
	}

	start := batch.ResolveStart(*startIndex, lastIndex, found)
	table := csvtable.NewTable(cfg.OutputDir, cfg.Area, start == 0)
	logger.Info("output table ready", "path", table.Path(), "start_index", start, "resumed", start > 0)

	fetcher := gagestats.NewClient(cfg.StatsBaseURL, cfg.UserAgent, cfg.FetchTimeout, metrics, logger)

	// Publisher is feature-flagged via KAFKA_ENABLED / KAFKA_TOPIC.
	var publisher batch.Publisher
	var kafkaPublisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		kafkaPublisher = kafkaadapter.NewPublisher(cfg, runID, logger)
		publisher = kafkaPublisher
		metrics.PublisherEnabled.Set(1)
		logger.Info("row publishing enabled", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
	} else {
		logger.Info("row publishing disabled")
	}

	b := batch.New(batch.Params{
		Sites:        sites,
		Fetcher:      fetcher,
		Series:       store,
		Sink:         table,
		Ledger:       ledger,
		Publisher:    publisher,
		Area:         cfg.Area,
		RunID:        runID,
		Targets:      cfg.AEPTargets,
		Tokens:       cfg.PreferTokens,
		WindowStart:  cfg.WindowStartDate,
		WindowEnd:    cfg.WindowEndDate,
		FetchRetries: cfg.FetchRetries,
		RetryBackoff: cfg.RetryBackoff,
		RetryMax:     cfg.RetryMax,
		StartIndex:   start,
		Logger:       logger,
		Metrics:      metrics,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, cfg.Area, runID, b, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the site walk.
	done := make(chan error, 1)
	go func() {
		_, _, err := b.Run(ctx)
		done <- err
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		runErr = <-done
	case runErr = <-done:
		if runErr != nil {
			logger.Error("batch error", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("retrospective db close error", "error", err)
	}
	if err := ledger.Close(); err != nil {
		logger.Error("resume ledger close error", "error", err)
	}

	logger.Info("shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}
