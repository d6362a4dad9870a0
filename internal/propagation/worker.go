package propagation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/kepler"
	"github.com/star/ephemgo/internal/metrics"
)

// propagateJob is a unit of work for the worker pool.
type propagateJob struct {
	index      int // position in the input table
	body       elements.ElementSet
	targetTime time.Time
}

// propagateResult is the output of a single body computation.
type propagateResult struct {
	index    int
	position BodyPosition
	err      error
}

// WorkerPool manages a fixed number of goroutines computing bodies in parallel.
type WorkerPool struct {
	workers          int
	solver           kepler.Solver
	acceptBestEffort bool
	logger           *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, solver kepler.Solver, acceptBestEffort bool, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers:          workers,
		solver:           solver,
		acceptBestEffort: acceptBestEffort,
		logger:           logger,
	}
}

// PropagateBatch computes every body at the target time. Results and failures
// are returned in input order. If ctx is cancelled the bodies finished so far
// are returned.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, bodies []elements.ElementSet, targetTime time.Time) ([]BodyPosition, []BodyFailure) {
	if len(bodies) == 0 {
		return nil, nil
	}

	jobs := make(chan propagateJob, wp.workers*2)
	results := make(chan propagateResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result := wp.propagateSingle(job)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for i, body := range bodies {
			select {
			case jobs <- propagateJob{index: i, body: body, targetTime: targetTime}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]propagateResult, 0, len(bodies))
	for result := range results {
		collected = append(collected, result)
	}
	slices.SortFunc(collected, func(a, b propagateResult) int { return a.index - b.index })

	positions := make([]BodyPosition, 0, len(collected))
	var failures []BodyFailure
	for _, result := range collected {
		if result.err != nil {
			wp.logger.Warn("propagation failed",
				"body", result.position.Body,
				"outcome", result.position.Outcome.String(),
				"iterations", result.position.Iterations,
				"error", result.err,
			)
			failures = append(failures, BodyFailure{Body: result.position.Body, Err: result.err})
			continue
		}
		if !result.position.Converged() {
			wp.logger.Warn("accepted best-effort position",
				"body", result.position.Body,
				"iterations", result.position.Iterations,
				"epsilon", result.position.Epsilon,
			)
		}
		positions = append(positions, result.position)
	}

	return positions, failures
}

// propagateSingle computes one body and records solver metrics.
func (wp *WorkerPool) propagateSingle(job propagateJob) propagateResult {
	pos, err := ComputeBody(job.body, job.targetTime, wp.solver, wp.acceptBestEffort)

	var nc *kepler.NonConvergenceError
	if err == nil || errors.As(err, &nc) {
		metrics.ObserveSolve(pos.Outcome.String(), pos.Iterations)
	}

	return propagateResult{index: job.index, position: pos, err: err}
}
