// Package config loads the optional TOML settings file used by the ephem CLI.
//
// Example:
//
//	elements    = "planets.csv"
//	relative_to = "Earth"
//	format      = "table"
//	workers     = 4
//
//	[solver]
//	max_iterations     = 100
//	tolerance          = 1e-4
//	accept_best_effort = false
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/naoina/toml"

	"github.com/star/ephemgo/internal/kepler"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Solver mirrors kepler.Config plus the best-effort policy.
type Solver struct {
	MaxIterations    int     `toml:"max_iterations"`
	Tolerance        float64 `toml:"tolerance"`
	AcceptBestEffort bool    `toml:"accept_best_effort"`
}

// Config holds CLI settings. Command-line flags override file values.
type Config struct {
	Elements   string `toml:"elements"` // CSV path; empty means the embedded table
	RelativeTo string `toml:"relative_to"`
	Format     string `toml:"format"`
	Workers    int    `toml:"workers"`
	Solver     Solver `toml:"solver"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Format:  FormatTable,
		Workers: runtime.NumCPU(),
		Solver: Solver{
			MaxIterations: kepler.DefaultMaxIterations,
			Tolerance:     kepler.DefaultTolerance,
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	switch c.Format {
	case FormatTable, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("format must be %q or %q, got %q", FormatTable, FormatJSON, c.Format))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Solver.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("solver.max_iterations must be at least 1, got %d", c.Solver.MaxIterations))
	}
	if !(c.Solver.Tolerance > 0) {
		errs = append(errs, fmt.Errorf("solver.tolerance must be positive, got %v", c.Solver.Tolerance))
	}
	return errors.Join(errs...)
}

// KeplerConfig returns the solver settings in the form the solver takes.
func (c Config) KeplerConfig() kepler.Config {
	return kepler.Config{MaxIterations: c.Solver.MaxIterations, Tolerance: c.Solver.Tolerance}
}
