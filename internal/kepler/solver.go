// Package kepler solves Kepler's equation for bound elliptical orbits.
//
// The solver finds the anomaly x satisfying
//
//	f(x) = x - e·sin(x) - M = 0
//
// with Halley's method (third order), starting from x₀ = M. Every solve
// reports how it ended: Converged, Stalled (zero Halley denominator) or
// BudgetExhausted (iteration cap reached), together with the iteration
// count and the achieved step size.
package kepler

import (
	"errors"
	"fmt"
	"math"
)

// Default solver parameters.
const (
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-4
)

var (
	// ErrOutOfDomain is returned for non-finite input or eccentricity outside [0, 1).
	ErrOutOfDomain = errors.New("kepler: input outside elliptical domain")
	// ErrStalled is matched by a NonConvergenceError whose Halley step was undefined.
	ErrStalled = errors.New("kepler: halley step undefined")
	// ErrBudgetExhausted is matched by a NonConvergenceError that ran out of iterations.
	ErrBudgetExhausted = errors.New("kepler: iteration budget exhausted")
)

// Outcome tags how a solve ended.
type Outcome int

const (
	Converged Outcome = iota
	Stalled
	BudgetExhausted
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case Stalled:
		return "stalled"
	case BudgetExhausted:
		return "budget_exhausted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Solution is the result of one solve. For BudgetExhausted, Anomaly is the
// last iterate (a best-effort estimate). For Stalled, Anomaly is the last
// finite iterate before the undefined step.
type Solution struct {
	Outcome    Outcome
	Anomaly    float64 // eccentric anomaly, radians
	Iterations int
	Epsilon    float64 // last |Δx| / max(1, |x|)
}

// NonConvergenceError carries the diagnostics of a solve that did not converge.
type NonConvergenceError struct {
	Solution
	Eccentricity float64
	MeanAnomaly  float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("kepler: %s after %d iterations (e=%g, M=%g, epsilon=%.3e)",
		e.Outcome, e.Iterations, e.Eccentricity, e.MeanAnomaly, e.Epsilon)
}

// Is lets errors.Is match on the outcome sentinels.
func (e *NonConvergenceError) Is(target error) bool {
	switch e.Outcome {
	case Stalled:
		return target == ErrStalled
	case BudgetExhausted:
		return target == ErrBudgetExhausted
	}
	return false
}

// Config holds solver configuration.
type Config struct {
	MaxIterations int     // Iteration cap (default: 100)
	Tolerance     float64 // Convergence threshold on the hybrid step size (default: 1e-4)
}

// DefaultConfig returns the default solver configuration.
func DefaultConfig() Config {
	return Config{MaxIterations: DefaultMaxIterations, Tolerance: DefaultTolerance}
}

// Solver is a configured Kepler equation solver. The zero value uses defaults.
type Solver struct {
	config Config
	step   func(ecc, m, x float64) (float64, bool) // nil means halleyStep
}

// NewSolver creates a solver, replacing non-positive settings with defaults.
func NewSolver(cfg Config) Solver {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if !(cfg.Tolerance > 0) {
		cfg.Tolerance = DefaultTolerance
	}
	return Solver{config: cfg}
}

// Config returns the effective configuration.
func (s Solver) Config() Config {
	return NewSolver(s.config).config
}

// Solve finds the eccentric anomaly for mean anomaly m and eccentricity ecc.
//
// A non-nil error is either ErrOutOfDomain (wrapped) or a
// *NonConvergenceError; in the latter case the returned Solution still holds
// the diagnostics so callers may accept the best-effort estimate.
func (s Solver) Solve(ecc, m float64) (Solution, error) {
	cfg := s.Config()

	if !finite(ecc) || !finite(m) {
		return Solution{}, fmt.Errorf("%w: e=%v M=%v", ErrOutOfDomain, ecc, m)
	}
	if ecc < 0 || ecc >= 1 {
		return Solution{}, fmt.Errorf("%w: eccentricity %v not in [0, 1)", ErrOutOfDomain, ecc)
	}

	// Circular orbit: the anomalies coincide.
	if ecc == 0 {
		return Solution{Outcome: Converged, Anomaly: m}, nil
	}

	step := s.step
	if step == nil {
		step = halleyStep
	}

	x := m
	var eps float64
	for i := 1; i <= cfg.MaxIterations; i++ {
		next, ok := step(ecc, m, x)
		if !ok {
			sol := Solution{Outcome: Stalled, Anomaly: x, Iterations: i, Epsilon: eps}
			return sol, &NonConvergenceError{Solution: sol, Eccentricity: ecc, MeanAnomaly: m}
		}

		// Relative step, falling back to absolute near x = 0.
		eps = math.Abs(next-x) / math.Max(1, math.Abs(x))
		x = next
		if eps < cfg.Tolerance {
			return Solution{Outcome: Converged, Anomaly: x, Iterations: i, Epsilon: eps}, nil
		}
	}

	sol := Solution{Outcome: BudgetExhausted, Anomaly: x, Iterations: cfg.MaxIterations, Epsilon: eps}
	return sol, &NonConvergenceError{Solution: sol, Eccentricity: ecc, MeanAnomaly: m}
}

// halleyStep performs one Halley update. It reports false when the
// denominator vanishes or the step is not finite.
func halleyStep(ecc, m, x float64) (float64, bool) {
	sinX, cosX := math.Sincos(x)
	f := x - ecc*sinX - m
	fp := 1 - ecc*cosX
	fpp := ecc * sinX

	denom := 2*fp*fp - f*fpp
	if denom == 0 {
		return 0, false
	}
	next := x - (2*f*fp)/denom
	if !finite(next) {
		return 0, false
	}
	return next, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
