package elements

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/star/ephemgo/internal/transform"
)

// Column names recognised in an element table header (case-insensitive).
const (
	colName     = "name"
	colA        = "a"
	colE        = "e"
	colI        = "i"
	colL        = "l"
	colLongPeri = "long_peri"
	colLongNode = "long_node"
	colEpoch    = "epoch"
)

var requiredColumns = []string{colName, colA, colE, colI, colL, colLongPeri, colLongNode}

// Parse reads a CSV element table from r. Angles and angular rates arrive in
// degrees (per century) and are converted to radians and wrapped. Every row
// uses epoch unless it has its own epoch column (RFC3339).
//
// Lines starting with '#' are comments. Malformed or out-of-domain rows are
// skipped with a warning log; a header without the required columns is an error.
func Parse(r io.Reader, epoch time.Time, logger *slog.Logger) ([]ElementSet, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("element table is empty")
		}
		return nil, fmt.Errorf("reading element table header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("element table header missing column %q", c)
		}
	}

	var entries []ElementSet
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				logger.Warn("skipping malformed element row", "line", pe.Line, "error", err)
				continue
			}
			return nil, fmt.Errorf("reading element table: %w", err)
		}

		// Concatenated tables repeat their header.
		if isHeader(record, cols) {
			continue
		}
		line, _ := cr.FieldPos(0)

		es, err := parseRow(record, cols, epoch)
		if err != nil {
			logger.Warn("skipping element row", "line", line, "error", err)
			continue
		}
		if err := es.Validate(); err != nil {
			logger.Warn("skipping out-of-domain element row", "line", line, "name", es.Name, "error", err)
			continue
		}
		entries = append(entries, es)
	}

	return entries, nil
}

func isHeader(record []string, cols map[string]int) bool {
	i := cols[colName]
	return i < len(record) && strings.EqualFold(strings.TrimSpace(record[i]), colName)
}

func parseRow(record []string, cols map[string]int, epoch time.Time) (ElementSet, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	// Missing optional columns (rates) read as zero.
	num := func(name string, required bool) (float64, error) {
		s, ok := field(name)
		if !ok || s == "" {
			if required {
				return 0, fmt.Errorf("missing %s", name)
			}
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
		}
		return v, nil
	}

	name, _ := field(colName)
	if name == "" {
		return ElementSet{}, fmt.Errorf("missing name")
	}

	var vals [12]float64
	keys := [12]string{colA, colE, colI, colL, colLongPeri, colLongNode,
		"d" + colA, "d" + colE, "d" + colI, "d" + colL, "d" + colLongPeri, "d" + colLongNode}
	for k, key := range keys {
		v, err := num(key, k < 6)
		if err != nil {
			return ElementSet{}, fmt.Errorf("%s: %w", name, err)
		}
		vals[k] = v
	}

	if s, ok := field(colEpoch); ok && s != "" {
		t, err := ParseEpoch(s)
		if err != nil {
			return ElementSet{}, fmt.Errorf("%s: %w", name, err)
		}
		epoch = t
	}

	return ElementSet{
		Name:     name,
		A:        vals[0],
		E:        vals[1],
		I:        transform.WrapAngle(transform.Radians(vals[2])),
		L:        transform.WrapAngle(transform.Radians(vals[3])),
		LongPeri: transform.WrapAngle(transform.Radians(vals[4])),
		LongNode: transform.WrapAngle(transform.Radians(vals[5])),
		Rates: Rates{
			A:        vals[6],
			E:        vals[7],
			I:        transform.Radians(vals[8]),
			L:        transform.Radians(vals[9]),
			LongPeri: transform.Radians(vals[10]),
			LongNode: transform.Radians(vals[11]),
		},
		Epoch: epoch.UTC(),
	}, nil
}

// ParseEpoch accepts "J2000", an RFC3339 timestamp, or a Julian Date
// prefixed with "JD" (e.g. "JD2451545.0").
func ParseEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, "J2000"):
		return transform.J2000Epoch, nil
	case len(s) > 2 && strings.EqualFold(s[:2], "JD"):
		jd, err := strconv.ParseFloat(s[2:], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid julian date epoch %q: %w", s, err)
		}
		return FromJulianDate(jd), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FromJulianDate converts a Julian Date to UTC, rounded to the millisecond.
func FromJulianDate(jd float64) time.Time {
	days := jd - transform.J2000
	whole := math.Floor(days)
	ms := math.Round((days - whole) * 86400e3)
	return transform.J2000Epoch.AddDate(0, 0, int(whole)).Add(time.Duration(ms) * time.Millisecond)
}
