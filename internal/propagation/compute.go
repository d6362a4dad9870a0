package propagation

import (
	"errors"
	"fmt"
	"time"

	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/kepler"
	"github.com/star/ephemgo/internal/transform"
)

// ComputeBody runs the full pipeline for one body: propagate the elements to
// target, check the domain, solve Kepler's equation and rotate the perifocal
// position into the ecliptic frame.
//
// When acceptBestEffort is set, a solve that exhausts its iteration budget
// still yields a position whose Outcome records the fact. A stalled solve
// always fails. On failure the returned BodyPosition carries whatever solver
// diagnostics are available.
func ComputeBody(es elements.ElementSet, target time.Time, solver kepler.Solver, acceptBestEffort bool) (BodyPosition, error) {
	bp := BodyPosition{Body: es.Name}

	prop := es.Propagate(target)
	if err := prop.Validate(); err != nil {
		return bp, fmt.Errorf("propagated to %s: %w", target.UTC().Format(time.RFC3339), err)
	}

	course, sol, err := solver.Course(es.Name, prop.E, prop.MeanAnomaly())
	bp.Course = course
	bp.Iterations = sol.Iterations
	bp.Epsilon = sol.Epsilon
	bp.Outcome = sol.Outcome
	if err != nil && !(acceptBestEffort && errors.Is(err, kepler.ErrBudgetExhausted)) {
		return bp, err
	}

	pos := transform.EclipticPosition(es.Name, prop.A, prop.E, sol.Anomaly, prop.Orientation())
	if !transform.Valid(pos.Vector) {
		return bp, ErrNonFinite
	}
	bp.Position = pos.Vector
	return bp, nil
}
