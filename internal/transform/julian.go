package transform

import (
	"math"
	"time"
)

// J2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const J2000 = 2451545.0

// DaysPerCentury is the length of a Julian century in days.
const DaysPerCentury = 36525.0

// J2000Epoch is J2000.0 as a time.Time (UTC, ignoring the TT offset).
var J2000Epoch = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

// JulianDate converts a time.Time (UTC) to Julian Date.
// Uses the standard astronomical algorithm valid for dates after March 1, 4801 BC.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	min := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	// Adjust year/month for Jan/Feb (treat as months 13/14 of previous year).
	if m <= 2 {
		y -= 1
		m += 12
	}

	A := math.Floor(y / 100)
	B := 2 - A + math.Floor(A/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + B - 1524.5
	jd += (h + min/60.0 + s/3600.0) / 24.0

	return jd
}

// CenturiesBetween returns the signed elapsed time from -> to in Julian
// centuries, keeping fractional days.
//
// Julian dates are used instead of time.Duration, which saturates after
// roughly 292 years.
func CenturiesBetween(from, to time.Time) float64 {
	return (JulianDate(to) - JulianDate(from)) / DaysPerCentury
}

// CenturiesSinceJ2000 returns Julian centuries elapsed since J2000.0.
func CenturiesSinceJ2000(t time.Time) float64 {
	return (JulianDate(t) - J2000) / DaysPerCentury
}
