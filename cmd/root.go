// Package cmd defines the CLI commands for the camino-stamps executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "camino-stamps",
		Short: "Scrapes and geocodes pilgrim stamp locations along the Camino routes.",
		Long: `camino-stamps walks the route, town and stamp-location pages of the
source website, extracts and translates location categories, archives the
stamp images, resolves coordinates through two geocoding providers, and
emits the resulting dataset as CSV and GeoJSON.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./camino.yaml if present)")

	cmd.AddCommand(newScrapeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configPath resolves the config file to load: the explicit flag, else a
// local camino.yaml when one exists, else defaults only.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat("camino.yaml"); err == nil {
		return "camino.yaml"
	}
	return ""
}
