package propagation

import (
	"errors"
	"fmt"
	"time"

	"github.com/star/ephemgo/internal/kepler"
	"github.com/star/ephemgo/internal/transform"
)

var (
	// ErrNoDataset is returned when the store has no element table loaded.
	ErrNoDataset = errors.New("no element dataset loaded")
	// ErrUnknownBody is returned when a named body is not in the dataset.
	ErrUnknownBody = errors.New("unknown body")
	// ErrNonFinite marks a body whose computed position is NaN or Inf.
	ErrNonFinite = errors.New("position is not finite")
)

// Snapshot holds the positions of all bodies at a single point in time.
type Snapshot struct {
	Timestamp time.Time
	Bodies    []BodyPosition // dataset order
	Failures  []BodyFailure
}

// BodyPosition is one body's heliocentric ecliptic position plus the
// diagnostics of the Kepler solve that produced it.
type BodyPosition struct {
	Body       string
	Position   transform.Vector // AU
	Course     kepler.Course
	Iterations int
	Epsilon    float64
	Outcome    kepler.Outcome
}

// Converged reports whether the solve met its tolerance. A false value means
// the position is a best-effort estimate.
func (bp BodyPosition) Converged() bool {
	return bp.Outcome == kepler.Converged
}

// BodyFailure records a body that could not be positioned.
type BodyFailure struct {
	Body string
	Err  error
}

func (f BodyFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Body, f.Err)
}

func (f BodyFailure) Unwrap() error {
	return f.Err
}

// Positions returns the snapshot as a name-keyed position map.
func (s *Snapshot) Positions() map[string]transform.Position {
	out := make(map[string]transform.Position, len(s.Bodies))
	for _, b := range s.Bodies {
		out[b.Body] = transform.Position{Body: b.Body, Vector: b.Position}
	}
	return out
}

// Lookup returns the named body's position.
func (s *Snapshot) Lookup(name string) (BodyPosition, bool) {
	for _, b := range s.Bodies {
		if b.Body == name {
			return b, true
		}
	}
	return BodyPosition{}, false
}

// RelativeTo re-expresses every other body relative to ref.
func (s *Snapshot) RelativeTo(ref string) (map[string]transform.Position, error) {
	return transform.RelativeTo(s.Positions(), ref)
}

// PropConfig holds propagation configuration loaded from environment variables.
type PropConfig struct {
	Workers          int           // Worker pool size (default: runtime.NumCPU())
	Step             time.Duration // Snapshot interval (default: 1h)
	Horizon          time.Duration // Cache horizon (default: 24h)
	Solver           kepler.Config
	AcceptBestEffort bool // keep budget-exhausted solves, flagged as not converged
}
