// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config governs how tracing is initialised.
type Config struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64
	Writer      io.Writer // span output; defaults to stdout
}

// ConfigFromEnv reads EPHEMGO_TRACING_* variables, logging and ignoring
// invalid values.
func ConfigFromEnv(logger *slog.Logger) Config {
	cfg := Config{ServiceName: "ephemd", SampleRatio: 1}

	if v := os.Getenv("EPHEMGO_TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid EPHEMGO_TRACING_ENABLED value, tracing disabled", "value", v)
		} else {
			cfg.Enabled = enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("EPHEMGO_TRACING_SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("EPHEMGO_TRACING_SAMPLE_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			logger.Warn("invalid EPHEMGO_TRACING_SAMPLE_RATIO value, using default", "value", v, "default", 1)
		} else {
			cfg.SampleRatio = ratio
		}
	}
	return cfg
}

// Init wires the tracer provider and returns a shutdown function that
// flushes pending spans. With tracing disabled a no-op provider is installed.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		logger.Info("tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing enabled",
		"service_name", cfg.ServiceName,
		"sample_ratio", cfg.SampleRatio,
	)
	return tp.Shutdown, nil
}

// ShutdownWithTimeout runs shutdown with a bounded timeout, logging failures.
func ShutdownWithTimeout(shutdown func(context.Context) error, logger *slog.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
}
