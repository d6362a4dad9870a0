package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/ephemgo/internal/api"
	"github.com/star/ephemgo/internal/cache"
	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/metrics"
	"github.com/star/ephemgo/internal/propagation"
	"github.com/star/ephemgo/internal/stream"
	"github.com/star/ephemgo/internal/tracing"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: loadLogLevel(),
	}))

	addr := os.Getenv("EPHEMGO_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.ConfigFromEnv(logger), logger)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer tracing.ShutdownWithTimeout(shutdownTracing, logger)

	elemCfg := loadElementsConfig(logger)
	store := elements.NewStore()
	store.Set(initialDataset(logger, elemCfg))
	metrics.SetElementsDatasetCount(len(store.Get().Bodies))

	propCfg := loadPropConfig(logger)
	prop := propagation.NewPropagator(store, propCfg, logger)
	metrics.SetPropagationWorkersActive(propCfg.Workers)

	cacheCfg := loadCacheConfig(logger, propCfg)
	snapCache := cache.NewSnapshotCache(cacheCfg, prop, store, logger)

	limitCfg := loadRateLimitConfig(logger)
	streamHandler := stream.NewHandler(snapCache, prop, store, loadStreamConfig(logger, limitCfg.TrustProxy), logger)

	srv := api.NewServer(addr, logger, authCfg, limitCfg, store, elemCfg, prop, snapCache, streamHandler)

	go snapCache.Start(ctx)

	// Keep the dataset age gauge current.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetElementsDatasetAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", addr,
			"auth_enabled", authCfg.Enabled,
			"element_fetch_enabled", elemCfg.EnableFetch,
			"dataset_source", store.Get().Source,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// initialDataset prefers the newest cached download and falls back to the
// embedded table.
func initialDataset(logger *slog.Logger, cfg api.ElementsConfig) *elements.Dataset {
	if cfg.CacheDir != "" {
		data, ts, err := elements.NewCache(cfg.CacheDir, cfg.MaxFiles).LoadLatest()
		if err != nil {
			logger.Info("no element cache found", "dir", cfg.CacheDir, "error", err)
		} else if ds, err := elements.Load(data, "cache", ts, logger); err != nil {
			logger.Warn("failed to parse cached element table", "error", err)
		} else {
			logger.Info("loaded element table from cache", "count", len(ds.Bodies), "cached_at", ts.Format(time.RFC3339))
			return ds
		}
	}

	ds, err := elements.Default(logger)
	if err != nil {
		// The embedded table is part of the binary; failing here is a build defect.
		logger.Error("embedded element table invalid", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded embedded element table", "count", len(ds.Bodies))
	return ds
}
