package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/transform"
)

var elementsCmd = &cobra.Command{
	Use:   "elements",
	Short: "List the element table in degrees",
	Args:  cobra.NoArgs,
	RunE:  runElements,
}

var rawFlag bool

func init() {
	elementsCmd.Flags().BoolVar(&rawFlag, "raw", false, "print the table CSV as read, without parsing")
}

// loadDataset reads the table at path, or the embedded table when path is empty.
func loadDataset(path string, logger *slog.Logger) (*elements.Dataset, error) {
	if path == "" {
		return elements.Default(logger)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading element table: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	ds, err := elements.Load(data, path, info.ModTime(), logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func runElements(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if rawFlag {
		return writeRaw(cmd.OutOrStdout(), cfg.Elements)
	}
	ds, err := loadDataset(cfg.Elements, newLogger())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "source: %s (%d bodies)\n", ds.Source, len(ds.Bodies))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "BODY\ta (AU)\te\ti (°)\tL (°)\tϖ (°)\tΩ (°)\tEPOCH\t")
	deg := transform.Degrees
	for _, es := range ds.Bodies {
		fmt.Fprintf(tw, "%s\t%.8f\t%.8f\t%.5f\t%.5f\t%.5f\t%.5f\t%s\t\n",
			es.Name, es.A, es.E, deg(es.I), deg(es.L), deg(es.LongPeri), deg(es.LongNode),
			es.Epoch.UTC().Format("2006-01-02T15:04Z"))
	}
	return tw.Flush()
}

func writeRaw(w io.Writer, path string) error {
	data := elements.DefaultTable()
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return fmt.Errorf("reading element table: %w", err)
		}
	}
	_, err := w.Write(data)
	return err
}
