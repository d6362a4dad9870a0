package transform

import (
	"math"
	"testing"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// TestJulianDate verifies our Julian Date calculation against known values.
func TestJulianDate(t *testing.T) {
	tests := []struct {
		name     string
		time     time.Time
		expected float64
	}{
		{
			name:     "J2000.0 epoch",
			time:     time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
			expected: 2451545.0,
		},
		{
			name:     "Unix epoch",
			time:     time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			expected: 2440587.5,
		},
		{
			// Vallado Example 3-15: April 6, 2004, 07:51:28.386 UTC
			name:     "Vallado example date",
			time:     time.Date(2004, 4, 6, 7, 51, 28, 386009000, time.UTC),
			expected: 2453101.827411875,
		},
		{
			name:     "non-UTC location is normalised",
			time:     time.Date(2000, 1, 1, 14, 0, 0, 0, time.FixedZone("UTC+2", 2*3600)),
			expected: 2451545.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JulianDate(tt.time)
			diff := math.Abs(got - tt.expected)
			if diff > 1e-6 {
				t.Errorf("JulianDate(%v) = %.10f, want %.10f (diff=%.2e)", tt.time, got, tt.expected, diff)
			}
		})
	}
}

// TestJulianDateMatchesGoSatellite cross-checks against go-satellite's JDay,
// whose formula is only valid for 1901-2099.
func TestJulianDateMatchesGoSatellite(t *testing.T) {
	times := []time.Time{
		time.Date(1957, 10, 4, 19, 28, 34, 0, time.UTC),
		time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC),
		time.Date(2049, 12, 31, 0, 0, 1, 0, time.UTC),
	}

	for _, tm := range times {
		t.Run(tm.Format(time.RFC3339), func(t *testing.T) {
			ref := satellite.JDay(tm.Year(), int(tm.Month()), tm.Day(), tm.Hour(), tm.Minute(), tm.Second())
			got := JulianDate(tm)
			if diff := math.Abs(got - ref); diff > 1e-6 {
				t.Errorf("JulianDate = %.8f, go-satellite = %.8f (diff=%.2e)", got, ref, diff)
			}
		})
	}
}

func TestCenturiesBetween(t *testing.T) {
	from := J2000Epoch

	// One Julian century later.
	to := from.Add(time.Duration(DaysPerCentury) * 24 * time.Hour)
	if got := CenturiesBetween(from, to); math.Abs(got-1) > 1e-12 {
		t.Errorf("CenturiesBetween one century = %v, want 1", got)
	}

	// Reversed interval is negative.
	if got := CenturiesBetween(to, from); math.Abs(got+1) > 1e-12 {
		t.Errorf("CenturiesBetween reversed = %v, want -1", got)
	}

	// Sub-day spans keep fractional days.
	sixHours := from.Add(6 * time.Hour)
	want := 0.25 / DaysPerCentury
	if got := CenturiesBetween(from, sixHours); math.Abs(got-want) > 1e-13 {
		t.Errorf("CenturiesBetween 6h = %.15f, want %.15f", got, want)
	}

	// Spans past time.Duration's range still work.
	far := time.Date(1600, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := CenturiesBetween(far, from); got < 3.99 || got > 4.01 {
		t.Errorf("CenturiesBetween 1600->2000 = %v, want ~4", got)
	}

	if got := CenturiesSinceJ2000(from); got != 0 {
		t.Errorf("CenturiesSinceJ2000(J2000) = %v, want 0", got)
	}
}
