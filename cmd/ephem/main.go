// Command ephem prints heliocentric ecliptic positions of solar-system
// bodies computed from a table of Keplerian elements.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/star/ephemgo/internal/config"
)

var (
	configFile   string
	elementsFile string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "ephem",
	Short:         "Heliocentric positions from Keplerian elements",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "TOML settings file")
	rootCmd.PersistentFlags().StringVar(&elementsFile, "elements", "", "element table CSV (default: embedded JPL table)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log parser and solver warnings")

	rootCmd.AddCommand(positionsCmd, elementsCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config when given and applies --elements over it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("elements") {
		cfg.Elements = elementsFile
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ephem:", err)
		os.Exit(1)
	}
}
