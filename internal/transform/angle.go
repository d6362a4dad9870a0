package transform

import "math"

// TwoPi is one full revolution in radians.
const TwoPi = 2 * math.Pi

// WrapAngle reduces an angle in radians to the half-open range [0, 2π).
// Uses a floor-based modulo so negative inputs land on the positive side.
func WrapAngle(theta float64) float64 {
	w := theta - TwoPi*math.Floor(theta/TwoPi)
	// Tiny negative inputs can round up to exactly 2π.
	if w >= TwoPi {
		return 0
	}
	return w
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
