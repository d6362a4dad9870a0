package kepler

import (
	"errors"
	"math"
)

// Course pairs a body with its anomalies at one instant.
type Course struct {
	Body             string
	MeanAnomaly      float64
	EccentricAnomaly float64
	TrueAnomaly      float64
}

// NewCourse builds a Course from a solved eccentric anomaly.
func NewCourse(body string, ecc, meanAnomaly float64, sol Solution) Course {
	return Course{
		Body:             body,
		MeanAnomaly:      meanAnomaly,
		EccentricAnomaly: sol.Anomaly,
		TrueAnomaly:      TrueAnomaly(sol.Anomaly, ecc),
	}
}

// MeanFromEccentric evaluates Kepler's equation M = E - e·sin(E).
func MeanFromEccentric(eccentricAnomaly, ecc float64) float64 {
	return eccentricAnomaly - ecc*math.Sin(eccentricAnomaly)
}

// TrueAnomaly converts an eccentric anomaly to the true anomaly in (-π, π].
func TrueAnomaly(eccentricAnomaly, ecc float64) float64 {
	sinE, cosE := math.Sincos(eccentricAnomaly)
	return math.Atan2(math.Sqrt(1-ecc*ecc)*sinE, cosE-ecc)
}

// Course solves Kepler's equation for one body. The Course is filled
// whenever the solver produced an anomaly, including the best-effort value
// that accompanies a *NonConvergenceError.
func (s Solver) Course(body string, ecc, meanAnomaly float64) (Course, Solution, error) {
	sol, err := s.Solve(ecc, meanAnomaly)
	var nc *NonConvergenceError
	if err != nil && !errors.As(err, &nc) {
		return Course{Body: body, MeanAnomaly: meanAnomaly}, sol, err
	}
	return NewCourse(body, ecc, meanAnomaly, sol), sol, err
}
