package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cannect/feedmetrics/internal/batch"
	"github.com/cannect/feedmetrics/internal/config"
	"github.com/cannect/feedmetrics/internal/domain"
	"github.com/cannect/feedmetrics/internal/httpserver"
	"github.com/cannect/feedmetrics/internal/ingest"
	"github.com/cannect/feedmetrics/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("opened database", "path", cfg.DatabasePath)

	metrics := domain.NewMetricsService(store, domain.DefaultEstimatorParams(), cfg.DedupWindow, logger)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Impression batcher: the telemetry endpoint enqueues here and the
	// batcher commits whole batches in single transactions. The done
	// channel lets shutdown wait for the final drain.
	batcher := batch.New(cfg.FlushBatchSize, cfg.FlushInterval, metrics.RecordImpressionBatch, logger)
	batcherDone := make(chan struct{})
	go func() {
		batcher.Start(ctx)
		close(batcherDone)
	}()

	// Crawler push stream, when configured.
	if cfg.StreamURL != "" {
		subscriber := ingest.NewSubscriber(cfg.StreamURL, metrics, logger)
		go func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("stream subscriber exited with error", "error", err)
			}
		}()
	}

	// Background retention sweeps.
	go metrics.StartSweepJob(ctx, cfg.SweepInterval, cfg.PostRetention, cfg.ImpressionRetention)

	server := httpserver.NewServer(cfg, metrics, batcher, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	// The HTTP server is down, so nothing enqueues anymore; wait for the
	// batcher to drain what is still buffered.
	<-batcherDone

	return nil
}
