// Package transform provides the frame and time utilities behind the
// ephemeris pipeline.
//
// The primary transform maps a position in the perifocal frame (orbital
// plane, x-axis toward periapsis) into the shared heliocentric ecliptic
// frame by composing three axis rotations:
//
//	r_ecl = R3(-Ω) * R1(-i) * R3(-ω) * r_peri
//
// where ω is the argument of periapsis, i the inclination and Ω the
// longitude of the ascending node. R1 and R3 are passive (frame) rotations,
// so the negated angles rotate FROM the perifocal frame INTO the ecliptic.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 2.
package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Vector is a Cartesian 3-vector. Units follow the semi-major axis (AU).
type Vector struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Position is a body's location in the ecliptic frame.
type Position struct {
	Body string
	Vector
}

// Orientation holds the three angles (radians) that orient an orbit in the
// ecliptic frame.
type Orientation struct {
	ArgPeriapsis  float64 // ω
	Inclination   float64 // i
	AscendingNode float64 // Ω
}

// R1 is the passive rotation about the 1st (x) axis.
func R1(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, s,
		0, -s, c,
	})
}

// R3 is the passive rotation about the 3rd (z) axis.
func R3(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}

// Rotation returns the perifocal -> ecliptic matrix R3(-Ω)·R1(-i)·R3(-ω).
func Rotation(o Orientation) *mat.Dense {
	var ni, m mat.Dense
	ni.Mul(R1(-o.Inclination), R3(-o.ArgPeriapsis))
	m.Mul(R3(-o.AscendingNode), &ni)
	return &m
}

// Perifocal returns orbital-plane coordinates for the anomaly that solves
// Kepler's equation (the eccentric anomaly):
//
//	x = a(cos E - e),  y = a·sqrt(1-e²)·sin E,  z = 0
func Perifocal(a, e, anomaly float64) Vector {
	s, c := math.Sincos(anomaly)
	return Vector{
		X: a * (c - e),
		Y: a * math.Sqrt(1-e*e) * s,
	}
}

// ToEcliptic rotates a perifocal vector into the ecliptic frame.
func ToEcliptic(v Vector, o Orientation) Vector {
	return mulVec(Rotation(o), v)
}

// ToPerifocal is the inverse of ToEcliptic. Rotation matrices are
// orthonormal, so the inverse is the transpose.
func ToPerifocal(v Vector, o Orientation) Vector {
	return mulVec(Rotation(o).T(), v)
}

// EclipticPosition computes the ecliptic position of a body from its shape
// (a, e), its orientation and the solved anomaly.
func EclipticPosition(body string, a, e, anomaly float64, o Orientation) Position {
	return Position{
		Body:   body,
		Vector: ToEcliptic(Perifocal(a, e, anomaly), o),
	}
}

func mulVec(m mat.Matrix, v Vector) Vector {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// Valid reports whether every coordinate of v is finite.
func Valid(v Vector) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
