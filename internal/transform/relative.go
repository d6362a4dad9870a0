package transform

import (
	"errors"
	"fmt"
)

// ErrReferenceNotFound is returned when the reference body is missing from
// the positions passed to RelativeTo.
var ErrReferenceNotFound = errors.New("reference body not found")

// RelativeTo re-expresses positions relative to the body named ref, e.g. a
// geocentric view of a heliocentric snapshot. The reference body is omitted
// from the result and the input map is left untouched.
func RelativeTo(positions map[string]Position, ref string) (map[string]Position, error) {
	origin, ok := positions[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrReferenceNotFound, ref)
	}

	out := make(map[string]Position, len(positions)-1)
	for name, p := range positions {
		if name == ref {
			continue
		}
		out[name] = Position{Body: p.Body, Vector: p.Vector.Sub(origin.Vector)}
	}
	return out, nil
}
