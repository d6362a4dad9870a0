package elements

import (
	"bytes"
	_ "embed"
	"errors"
	"log/slog"
	"time"

	"github.com/star/ephemgo/internal/transform"
)

// DefaultSource names the embedded table in Dataset.Source.
const DefaultSource = "embedded:jpl_approx"

// defaultTable holds the JPL approximate planetary elements (J2000, 1800-2050 AD).
//
//go:embed jpl_approx.csv
var defaultTable []byte

// DefaultTable returns the raw embedded CSV.
func DefaultTable() []byte {
	return defaultTable
}

// ErrEmptyTable is returned when a table parses but has no usable rows.
var ErrEmptyTable = errors.New("element table has no usable rows")

// Default parses the embedded element table into a dataset.
func Default(logger *slog.Logger) (*Dataset, error) {
	return Load(defaultTable, DefaultSource, time.Now(), logger)
}

// Load parses a raw table into a dataset with a J2000 table epoch.
func Load(data []byte, source string, fetchedAt time.Time, logger *slog.Logger) (*Dataset, error) {
	bodies, err := Parse(bytes.NewReader(data), transform.J2000Epoch, logger)
	if err != nil {
		return nil, err
	}
	if len(bodies) == 0 {
		return nil, ErrEmptyTable
	}
	return &Dataset{
		Source:    source,
		FetchedAt: fetchedAt,
		Epoch:     transform.J2000Epoch,
		Bodies:    bodies,
	}, nil
}
