package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/ephemgo/internal/config"
	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/propagation"
	"github.com/star/ephemgo/internal/transform"
)

var (
	atFlag         string
	relativeTo     string
	tolerance      float64
	maxIterations  int
	workers        int
	outputFormat   string
	bestEffortFlag bool
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Compute every body's position at an instant",
	Long: `Compute heliocentric ecliptic positions (AU) of every body in the element
table at the given instant. With --relative-to the positions are re-centred
on the named body, which is left out of the output.

Instants are RFC3339 timestamps, "J2000", or a Julian date such as JD2460000.5.`,
	Args: cobra.NoArgs,
	RunE: runPositions,
}

func init() {
	f := positionsCmd.Flags()
	f.StringVar(&atFlag, "at", "", "instant to compute (default: now)")
	f.StringVar(&relativeTo, "relative-to", "", "re-centre positions on this body")
	f.Float64Var(&tolerance, "tolerance", 0, "Kepler convergence tolerance (default 1e-4)")
	f.IntVar(&maxIterations, "max-iter", 0, "Kepler iteration cap (default 100)")
	f.IntVar(&workers, "workers", 0, "parallel workers (default: number of CPUs)")
	f.StringVar(&outputFormat, "format", "", "output format: table or json (default table)")
	f.BoolVar(&bestEffortFlag, "best-effort", false, "keep positions whose solve hit the iteration cap")
}

// applyFlags overlays explicitly set flags on the file settings.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("relative-to") {
		cfg.RelativeTo = relativeTo
	}
	if f.Changed("tolerance") {
		cfg.Solver.Tolerance = tolerance
	}
	if f.Changed("max-iter") {
		cfg.Solver.MaxIterations = maxIterations
	}
	if f.Changed("workers") {
		cfg.Workers = workers
	}
	if f.Changed("format") {
		cfg.Format = outputFormat
	}
	if f.Changed("best-effort") {
		cfg.Solver.AcceptBestEffort = bestEffortFlag
	}
	return cfg.Validate()
}

func runPositions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}

	at := time.Now().UTC()
	if atFlag != "" {
		if at, err = elements.ParseEpoch(atFlag); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}

	logger := newLogger()
	ds, err := loadDataset(cfg.Elements, logger)
	if err != nil {
		return err
	}
	if cfg.RelativeTo != "" {
		if _, ok := ds.Lookup(cfg.RelativeTo); !ok {
			return fmt.Errorf("--relative-to: unknown body %q (table has %s)", cfg.RelativeTo, strings.Join(ds.Names(), ", "))
		}
	}
	store := elements.NewStore()
	store.Set(ds)

	prop := propagation.NewPropagator(store, propagation.PropConfig{
		Workers:          cfg.Workers,
		Solver:           cfg.KeplerConfig(),
		AcceptBestEffort: cfg.Solver.AcceptBestEffort,
	}, logger)

	snap, err := prop.PropagateToTime(context.Background(), at)
	if err != nil {
		return err
	}
	// Warnings precede any reference error below.
	for _, f := range snap.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", f.Error())
	}
	if len(snap.Bodies) == 0 {
		return fmt.Errorf("no body could be positioned (%d failures)", len(snap.Failures))
	}

	rows, err := buildRows(snap, cfg.RelativeTo)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Format == config.FormatJSON {
		err = writeJSON(out, snap, cfg.RelativeTo, rows)
	} else {
		err = writeTable(out, snap, cfg.RelativeTo, rows)
	}
	return err
}

type row struct {
	Body       string  `json:"body"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Distance   float64 `json:"distance_au"`
	Iterations int     `json:"iterations"`
	Epsilon    float64 `json:"epsilon"`
	Outcome    string  `json:"outcome"`
}

// buildRows lists bodies in table order, re-centred on ref when set.
func buildRows(snap *propagation.Snapshot, ref string) ([]row, error) {
	var rel map[string]transform.Position
	if ref != "" {
		var err error
		if rel, err = snap.RelativeTo(ref); err != nil {
			if errors.Is(err, transform.ErrReferenceNotFound) {
				return nil, fmt.Errorf("--relative-to: %w", err)
			}
			return nil, err
		}
	}

	rows := make([]row, 0, len(snap.Bodies))
	for _, bp := range snap.Bodies {
		v := bp.Position
		if rel != nil {
			p, ok := rel[bp.Body]
			if !ok {
				continue
			}
			v = p.Vector
		}
		rows = append(rows, row{
			Body:       bp.Body,
			X:          v.X,
			Y:          v.Y,
			Z:          v.Z,
			Distance:   v.Norm(),
			Iterations: bp.Iterations,
			Epsilon:    bp.Epsilon,
			Outcome:    bp.Outcome.String(),
		})
	}
	return rows, nil
}

func writeTable(w io.Writer, snap *propagation.Snapshot, ref string, rows []row) error {
	origin := "Sun"
	if ref != "" {
		origin = ref
	}
	fmt.Fprintf(w, "%s  JD %.5f  T %+.8f cy  origin: %s\n",
		snap.Timestamp.UTC().Format(time.RFC3339), transform.JulianDate(snap.Timestamp),
		transform.CenturiesSinceJ2000(snap.Timestamp), origin)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "BODY\tX (AU)\tY (AU)\tZ (AU)\tR (AU)\tITER\tEPS\tOUTCOME\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%.6f\t%.6f\t%d\t%.1e\t%s\t\n", r.Body, r.X, r.Y, r.Z, r.Distance, r.Iterations, r.Epsilon, r.Outcome)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, snap *propagation.Snapshot, ref string, rows []row) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Timestamp  time.Time `json:"timestamp"`
		JulianDate float64   `json:"julian_date"`
		Centuries  float64   `json:"centuries_since_j2000"`
		RelativeTo string    `json:"relative_to,omitempty"`
		Bodies     []row     `json:"bodies"`
	}{snap.Timestamp.UTC(), transform.JulianDate(snap.Timestamp), transform.CenturiesSinceJ2000(snap.Timestamp), ref, rows})
}
