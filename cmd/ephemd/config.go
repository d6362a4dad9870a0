package main

import (
	"errors"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/star/ephemgo/internal/api"
	"github.com/star/ephemgo/internal/auth"
	"github.com/star/ephemgo/internal/cache"
	"github.com/star/ephemgo/internal/kepler"
	"github.com/star/ephemgo/internal/propagation"
	"github.com/star/ephemgo/internal/stream"
)

func loadLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("EPHEMGO_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// envPositiveInt reads a positive integer, warning and keeping def on bad input.
func envPositiveInt(logger *slog.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return n
}

// envSeconds reads a positive whole number of seconds.
func envSeconds(logger *slog.Logger, key string, def time.Duration) time.Duration {
	return time.Duration(envPositiveInt(logger, key, int(def/time.Second))) * time.Second
}

func envBool(logger *slog.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return b
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	if v := os.Getenv("EPHEMGO_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("EPHEMGO_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("EPHEMGO_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("EPHEMGO_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadRateLimitConfig(logger *slog.Logger) api.RateLimitConfig {
	cfg := api.RateLimitConfig{
		Enabled:    envBool(logger, "EPHEMGO_RATE_LIMIT_ENABLED", true),
		Rate:       10,
		Burst:      envPositiveInt(logger, "EPHEMGO_RATE_LIMIT_BURST", 20),
		TrustProxy: envBool(logger, "EPHEMGO_TRUST_PROXY", false),
	}

	if v := os.Getenv("EPHEMGO_RATE_LIMIT_RPS"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			logger.Warn("invalid EPHEMGO_RATE_LIMIT_RPS value, using default", "value", v, "default", cfg.Rate)
		} else {
			cfg.Rate = r
		}
	}

	logger.Info("rate limit config",
		"enabled", cfg.Enabled,
		"rps", cfg.Rate,
		"burst", cfg.Burst,
		"trust_proxy", cfg.TrustProxy,
	)
	return cfg
}

func loadPropConfig(logger *slog.Logger) propagation.PropConfig {
	cfg := propagation.PropConfig{
		Workers:          envPositiveInt(logger, "EPHEMGO_PROP_WORKERS", runtime.NumCPU()),
		Step:             envSeconds(logger, "EPHEMGO_SNAPSHOT_STEP", time.Hour),
		Horizon:          envSeconds(logger, "EPHEMGO_SNAPSHOT_HORIZON", 24*time.Hour),
		AcceptBestEffort: envBool(logger, "EPHEMGO_ACCEPT_BEST_EFFORT", false),
		Solver: kepler.Config{
			MaxIterations: envPositiveInt(logger, "EPHEMGO_KEPLER_MAX_ITER", kepler.DefaultMaxIterations),
			Tolerance:     kepler.DefaultTolerance,
		},
	}

	if v := os.Getenv("EPHEMGO_KEPLER_TOLERANCE"); v != "" {
		tol, err := strconv.ParseFloat(v, 64)
		if err != nil || !(tol > 0) {
			logger.Warn("invalid EPHEMGO_KEPLER_TOLERANCE value, using default", "value", v, "default", kepler.DefaultTolerance)
		} else {
			cfg.Solver.Tolerance = tol
		}
	}

	logger.Info("propagation config",
		"workers", cfg.Workers,
		"step", cfg.Step.String(),
		"horizon", cfg.Horizon.String(),
		"kepler_max_iterations", cfg.Solver.MaxIterations,
		"kepler_tolerance", cfg.Solver.Tolerance,
		"accept_best_effort", cfg.AcceptBestEffort,
	)
	return cfg
}

func loadCacheConfig(logger *slog.Logger, propCfg propagation.PropConfig) cache.Config {
	cfg := cache.Config{
		Step:    propCfg.Step,
		Horizon: propCfg.Horizon,
		Buffer:  envSeconds(logger, "EPHEMGO_CACHE_BUFFER", propCfg.Step),
	}
	logger.Info("cache config",
		"step", cfg.Step.String(),
		"horizon", cfg.Horizon.String(),
		"buffer", cfg.Buffer.String(),
	)
	return cfg
}

func loadStreamConfig(logger *slog.Logger, trustProxy bool) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: envPositiveInt(logger, "EPHEMGO_STREAM_MAX_CONCURRENT", 10),
		MaxTotal:           envPositiveInt(logger, "EPHEMGO_STREAM_MAX_TOTAL", 1000),
		KeepaliveInterval:  envSeconds(logger, "EPHEMGO_STREAM_KEEPALIVE_INTERVAL", 30*time.Second),
		Interval:           envSeconds(logger, "EPHEMGO_STREAM_INTERVAL", 10*time.Second),
		TrustProxy:         trustProxy,
	}
	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_total", cfg.MaxTotal,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"interval_seconds", cfg.Interval.Seconds(),
	)
	return cfg
}

func loadElementsConfig(logger *slog.Logger) api.ElementsConfig {
	cfg := api.ElementsConfig{
		EnableFetch: envBool(logger, "EPHEMGO_ELEMENTS_FETCH_ENABLED", false),
		SourceURL:   os.Getenv("EPHEMGO_ELEMENTS_SOURCE_URL"),
		CacheDir:    "/tmp/ephemgo/elements",
		MaxFiles:    envPositiveInt(logger, "EPHEMGO_ELEMENTS_MAX_FILES", 5),
	}

	if v, ok := os.LookupEnv("EPHEMGO_ELEMENTS_CACHE_DIR"); ok {
		cfg.CacheDir = v // empty disables the disk cache
	}

	if v := os.Getenv("EPHEMGO_ELEMENTS_EXTRA_URLS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.ExtraSourceURLs = append(cfg.ExtraSourceURLs, u)
			}
		}
	}

	if cfg.EnableFetch && cfg.SourceURL == "" {
		logger.Warn("element fetch enabled without EPHEMGO_ELEMENTS_SOURCE_URL; fetch requests will fail")
	}

	logger.Info("elements config",
		"fetch_enabled", cfg.EnableFetch,
		"source_url", cfg.SourceURL,
		"extra_urls", cfg.ExtraSourceURLs,
		"cache_dir", cfg.CacheDir,
	)
	return cfg
}
