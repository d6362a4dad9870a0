package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/kepler"
	"github.com/star/ephemgo/internal/metrics"
)

const tracerName = "github.com/star/ephemgo/internal/propagation"

// Propagator orchestrates snapshot generation for the current element dataset.
type Propagator struct {
	store  *elements.Store
	pool   *WorkerPool
	solver kepler.Solver
	config PropConfig
	logger *slog.Logger
}

// NewPropagator creates a new propagation orchestrator.
func NewPropagator(store *elements.Store, config PropConfig, logger *slog.Logger) *Propagator {
	solver := kepler.NewSolver(config.Solver)
	pool := NewWorkerPool(config.Workers, solver, config.AcceptBestEffort, logger)
	return &Propagator{
		store:  store,
		pool:   pool,
		solver: solver,
		config: config,
		logger: logger,
	}
}

// Config returns the propagation configuration.
func (p *Propagator) Config() PropConfig {
	return p.config
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// PropagateToTime computes a snapshot of every body at the target time.
// Per-body failures are reported in the snapshot, not as an error.
func (p *Propagator) PropagateToTime(ctx context.Context, targetTime time.Time) (*Snapshot, error) {
	ds := p.store.Get()
	if ds == nil {
		return nil, ErrNoDataset
	}

	ctx, span := startSpan(ctx, "propagation/snapshot",
		attribute.String("target_time", targetTime.UTC().Format(time.RFC3339)),
		attribute.Int("bodies", len(ds.Bodies)),
		attribute.String("dataset_source", ds.Source),
	)
	defer span.End()

	p.logger.Debug("propagating",
		"body_count", len(ds.Bodies),
		"target_time", targetTime.UTC().Format(time.RFC3339),
		"workers", p.pool.workers,
	)

	start := time.Now()
	positions, failures := p.pool.PropagateBatch(ctx, ds.Bodies, targetTime)
	duration := time.Since(start)

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	metrics.RecordPropagation(duration, len(positions), len(failures))
	span.SetAttributes(
		attribute.Int("success", len(positions)),
		attribute.Int("failures", len(failures)),
	)

	p.logger.Debug("propagation complete",
		"success", len(positions),
		"errors", len(failures),
		"duration_ms", duration.Milliseconds(),
	)

	return &Snapshot{
		Timestamp: targetTime,
		Bodies:    positions,
		Failures:  failures,
	}, nil
}

// Body computes a single named body at the target time without the pool.
func (p *Propagator) Body(ctx context.Context, name string, targetTime time.Time) (BodyPosition, error) {
	es, ok := p.store.Lookup(name)
	if !ok {
		if p.store.Get() == nil {
			return BodyPosition{}, ErrNoDataset
		}
		return BodyPosition{}, fmt.Errorf("%w: %q", ErrUnknownBody, name)
	}

	_, span := startSpan(ctx, "propagation/body",
		attribute.String("body", name),
		attribute.String("target_time", targetTime.UTC().Format(time.RFC3339)),
	)
	defer span.End()

	pos, err := ComputeBody(es, targetTime, p.solver, p.config.AcceptBestEffort)
	span.SetAttributes(
		attribute.String("outcome", pos.Outcome.String()),
		attribute.Int("iterations", pos.Iterations),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute failed")
		return pos, fmt.Errorf("%s: %w", name, err)
	}
	return pos, nil
}

// GenerateSnapshots generates snapshots from startTime over the configured
// horizon at the configured step interval.
func (p *Propagator) GenerateSnapshots(ctx context.Context, startTime time.Time) ([]*Snapshot, error) {
	if p.store.Get() == nil {
		return nil, ErrNoDataset
	}
	if p.config.Step <= 0 {
		return nil, fmt.Errorf("invalid step %s", p.config.Step)
	}

	numFrames := int(p.config.Horizon/p.config.Step) + 1
	snapshots := make([]*Snapshot, 0, numFrames)

	for i := 0; i < numFrames; i++ {
		select {
		case <-ctx.Done():
			return snapshots, ctx.Err()
		default:
		}

		targetTime := startTime.Add(time.Duration(i) * p.config.Step)
		snap, err := p.PropagateToTime(ctx, targetTime)
		if err != nil {
			return snapshots, fmt.Errorf("snapshot %d at %s: %w", i, targetTime.Format(time.RFC3339), err)
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}
