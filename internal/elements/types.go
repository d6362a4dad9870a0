package elements

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/star/ephemgo/internal/transform"
)

// ErrOutOfDomain marks element sets the solver cannot handle: eccentricity
// outside [0, 1), non-positive semi-major axis, or non-finite values.
var ErrOutOfDomain = errors.New("elements out of domain")

// Rates holds secular rates of change per Julian century.
// A is in AU/century, E is per century, angles are in rad/century.
type Rates struct {
	A        float64
	E        float64
	I        float64
	L        float64
	LongPeri float64
	LongNode float64
}

// ElementSet is one body's classical orbital elements at Epoch.
// Angles are radians in [0, 2π). Treat as an immutable value.
type ElementSet struct {
	Name     string
	A        float64 // semi-major axis (AU)
	E        float64 // eccentricity
	I        float64 // inclination
	L        float64 // mean longitude
	LongPeri float64 // longitude of periapsis (ϖ)
	LongNode float64 // longitude of ascending node (Ω)
	Rates    Rates
	Epoch    time.Time
}

// ArgPeriapsis returns ω = ϖ - Ω in [0, 2π).
func (es ElementSet) ArgPeriapsis() float64 {
	return transform.WrapAngle(es.LongPeri - es.LongNode)
}

// MeanAnomaly returns M = L - ϖ in [0, 2π).
func (es ElementSet) MeanAnomaly() float64 {
	return transform.WrapAngle(es.L - es.LongPeri)
}

// Orientation returns the angles that rotate this orbit into the ecliptic.
func (es ElementSet) Orientation() transform.Orientation {
	return transform.Orientation{
		ArgPeriapsis:  es.ArgPeriapsis(),
		Inclination:   es.I,
		AscendingNode: es.LongNode,
	}
}

// Validate reports whether the elements describe a bound elliptical orbit.
func (es ElementSet) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"a", es.A}, {"e", es.E}, {"i", es.I}, {"L", es.L},
		{"long_peri", es.LongPeri}, {"long_node", es.LongNode},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s: %s is not finite", ErrOutOfDomain, es.Name, f.name)
		}
	}
	if es.E < 0 || es.E >= 1 {
		return fmt.Errorf("%w: %s: eccentricity %v not in [0, 1)", ErrOutOfDomain, es.Name, es.E)
	}
	if es.A <= 0 {
		return fmt.Errorf("%w: %s: semi-major axis %v must be positive", ErrOutOfDomain, es.Name, es.A)
	}
	return nil
}

// Dataset is a complete element table loaded from a source.
type Dataset struct {
	Source    string
	FetchedAt time.Time
	Epoch     time.Time // table epoch; individual rows may override
	Bodies    []ElementSet
}

// Lookup returns the element set for the named body.
func (ds *Dataset) Lookup(name string) (ElementSet, bool) {
	for _, b := range ds.Bodies {
		if b.Name == name {
			return b, true
		}
	}
	return ElementSet{}, false
}

// Names returns body names in table order.
func (ds *Dataset) Names() []string {
	names := make([]string, len(ds.Bodies))
	for i, b := range ds.Bodies {
		names[i] = b.Name
	}
	return names
}
