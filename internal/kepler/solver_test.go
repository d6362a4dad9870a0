package kepler

import (
	"errors"
	"math"
	"testing"
)

func TestSolveEarthLike(t *testing.T) {
	sol, err := Solver{}.Solve(0.0167, 0)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Outcome != Converged {
		t.Errorf("outcome = %v, want converged", sol.Outcome)
	}
	if sol.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", sol.Iterations)
	}
	if math.Abs(sol.Anomaly) > 1e-15 {
		t.Errorf("anomaly = %v, want 0", sol.Anomaly)
	}
}

func TestSolveCircularOrbit(t *testing.T) {
	for _, m := range []float64{0, 0.5, math.Pi, 6.2} {
		sol, err := Solver{}.Solve(0, m)
		if err != nil {
			t.Fatalf("Solve(0, %v): %v", m, err)
		}
		if sol.Anomaly != m {
			t.Errorf("Solve(0, %v) anomaly = %v, want exactly %v", m, sol.Anomaly, m)
		}
		if sol.Iterations != 0 || sol.Outcome != Converged {
			t.Errorf("Solve(0, %v) = %+v, want converged in 0 iterations", m, sol)
		}
	}
}

// TestSolveSatisfiesKeplerEquation sweeps e ∈ [0, 0.9] and M ∈ [0, 2π).
func TestSolveSatisfiesKeplerEquation(t *testing.T) {
	solvers := []struct {
		name     string
		solver   Solver
		residual float64
	}{
		{"default tolerance", Solver{}, DefaultTolerance},
		{"tight tolerance", NewSolver(Config{MaxIterations: 100, Tolerance: 1e-12}), 1e-11},
	}

	for _, s := range solvers {
		t.Run(s.name, func(t *testing.T) {
			for e := 0.0; e <= 0.9+1e-9; e += 0.05 {
				for m := 0.0; m < 2*math.Pi; m += 0.05 {
					sol, err := s.solver.Solve(e, m)
					if err != nil {
						t.Fatalf("Solve(%.2f, %.2f): %v", e, m, err)
					}
					if r := math.Abs(MeanFromEccentric(sol.Anomaly, e) - m); r >= s.residual {
						t.Fatalf("Solve(%.2f, %.2f): residual %.3e >= %.1e (iterations=%d)",
							e, m, r, s.residual, sol.Iterations)
					}
				}
			}
		})
	}
}

// TestSolveNearZeroAnomaly exercises the absolute branch of the
// convergence test, where a purely relative check divides by ~0.
func TestSolveNearZeroAnomaly(t *testing.T) {
	for _, m := range []float64{-1e-12, 1e-300, 1e-9, 2*math.Pi - 1e-12} {
		sol, err := Solver{}.Solve(0.3, m)
		if err != nil {
			t.Fatalf("Solve(0.3, %v): %v", m, err)
		}
		if sol.Iterations > 3 {
			t.Errorf("Solve(0.3, %v) took %d iterations", m, sol.Iterations)
		}
		if math.IsNaN(sol.Anomaly) || math.IsInf(sol.Anomaly, 0) {
			t.Errorf("Solve(0.3, %v) anomaly = %v", m, sol.Anomaly)
		}
	}
}

func TestSolveBudgetExhausted(t *testing.T) {
	s := NewSolver(Config{MaxIterations: 1, Tolerance: 1e-300})

	sol, err := s.Solve(0.9, 1.0)
	if err == nil {
		t.Fatal("expected non-convergence error")
	}
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("error = %v, want ErrBudgetExhausted", err)
	}
	if errors.Is(err, ErrStalled) {
		t.Error("budget exhaustion should not match ErrStalled")
	}

	var nce *NonConvergenceError
	if !errors.As(err, &nce) {
		t.Fatalf("error %T is not *NonConvergenceError", err)
	}
	if nce.Iterations != 1 || sol.Iterations != 1 {
		t.Errorf("iterations = %d/%d, want 1", nce.Iterations, sol.Iterations)
	}
	if sol.Outcome != BudgetExhausted {
		t.Errorf("outcome = %v, want budget_exhausted", sol.Outcome)
	}
	if sol.Epsilon <= 0 || math.IsNaN(sol.Anomaly) {
		t.Errorf("diagnostics missing: %+v", sol)
	}
	// Best-effort estimate moved away from the initial guess.
	if sol.Anomaly == 1.0 {
		t.Error("expected last iterate, got initial guess")
	}
}

func TestSolveStalled(t *testing.T) {
	s := Solver{step: func(ecc, m, x float64) (float64, bool) { return 0, false }}

	sol, err := s.Solve(0.5, 2.0)
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("error = %v, want ErrStalled", err)
	}
	if sol.Outcome != Stalled {
		t.Errorf("outcome = %v, want stalled", sol.Outcome)
	}
	if sol.Anomaly != 2.0 || math.IsInf(sol.Anomaly, 0) {
		t.Errorf("stalled anomaly = %v, want last finite iterate 2.0", sol.Anomaly)
	}
	if sol.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", sol.Iterations)
	}
}

func TestHalleyStepFinite(t *testing.T) {
	for e := 0.05; e < 1; e += 0.1 {
		for x := -7.0; x < 7; x += 0.25 {
			next, ok := halleyStep(e, 1.0, x)
			if !ok {
				continue
			}
			if math.IsNaN(next) || math.IsInf(next, 0) {
				t.Fatalf("halleyStep(%v, 1, %v) = %v reported ok", e, x, next)
			}
		}
	}
}

func TestSolveOutOfDomain(t *testing.T) {
	tests := []struct {
		name string
		e, m float64
	}{
		{"parabolic", 1.0, 0.5},
		{"hyperbolic", 1.5, 0.5},
		{"negative eccentricity", -0.1, 0.5},
		{"NaN anomaly", 0.1, math.NaN()},
		{"Inf eccentricity", math.Inf(1), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Solver{}.Solve(tt.e, tt.m)
			if !errors.Is(err, ErrOutOfDomain) {
				t.Errorf("error = %v, want ErrOutOfDomain", err)
			}
		})
	}
}

func TestNewSolverDefaults(t *testing.T) {
	cfg := NewSolver(Config{}).Config()
	if cfg.MaxIterations != DefaultMaxIterations || cfg.Tolerance != DefaultTolerance {
		t.Errorf("defaults = %+v", cfg)
	}
	cfg = NewSolver(Config{MaxIterations: 7, Tolerance: 1e-8}).Config()
	if cfg.MaxIterations != 7 || cfg.Tolerance != 1e-8 {
		t.Errorf("explicit config = %+v", cfg)
	}
}

func TestOutcomeString(t *testing.T) {
	if Converged.String() != "converged" || Stalled.String() != "stalled" || BudgetExhausted.String() != "budget_exhausted" {
		t.Error("unexpected outcome labels")
	}
}
