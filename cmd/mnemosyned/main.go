// Command mnemosyned runs the Mnemosyne caching reverse proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyrix126/mnemosyne/internal/api"
	"github.com/cyrix126/mnemosyne/internal/config"
	"github.com/cyrix126/mnemosyne/internal/entrycache"
	"github.com/cyrix126/mnemosyne/internal/index"
	"github.com/cyrix126/mnemosyne/internal/metrics"
	"github.com/cyrix126/mnemosyne/internal/observability"
	"github.com/cyrix126/mnemosyne/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mnemosyned failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting mnemosyned")

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer func() { _ = cfgManager.Close() }()

	cfg := cfgManager.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	cache := entrycache.New(entrycache.Config{
		Name:           "mnemosyne",
		MaxWeightBytes: cfg.Cache.SizeLimitBytes(),
		IdleExpiry:     cfg.Cache.Expiration(),
	})
	defer cache.Close()

	idx := index.New()

	proxyHandler := pipeline.NewHandler(cache, idx, cfgManager, logger)
	adminHandler := api.NewHandler(cache, idx, cfgManager, logger)

	mux := http.NewServeMux()
	mux.Handle(api.Prefix, adminHandler)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, metrics.Handler())
	}
	mux.Handle("/", proxyHandler)

	var httpHandler http.Handler = mux
	httpHandler = corsMiddleware(httpHandler)
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	if cfg.Metrics.Enabled {
		statsCtx, statsCancel := context.WithCancel(ctx)
		defer statsCancel()
		go collectStatsLoop(statsCtx, cache, idx)
	}

	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: httpHandler,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("stopped")
	return nil
}

// collectStatsLoop periodically samples cache/index occupancy into the
// Prometheus gauges; per-request sampling would contend with the Index
// and Entry Cache locks for no benefit.
func collectStatsLoop(ctx context.Context, cache *entrycache.Cache, idx *index.Index) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CollectCacheStats(cache, idx)
		}
	}
}
