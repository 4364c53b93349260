// Package cmd is the narrative-core CLI: a single cobra command tree wiring
// the HTTP server, the scheduler, and the one-shot admin/backfill operations
// onto the same config/logger/persistence bootstrap, via cobra's
// rootCmd+PersistentFlags shape; each subcommand loads config and the logger
// itself through loadConfigAndLogger.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"narrative-core/internal/config"
	"narrative-core/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "narrative-core",
	Short: "Narrative intelligence core: ingestion, lifecycle, and briefing services",
	Long: `narrative-core tracks crypto-news narratives across their lifecycle
(create, extend, consolidate, archive, reactivate) and serves trending
signals, narrative history, and generated briefings over an HTTP API.

Run 'narrative-core serve' to start the API server and background
scheduler. The remaining subcommands are one-shot operational tools:
backfill passes, a consolidation dry-run viewer, and a cost report.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .narrative-core.yaml in cwd or $HOME)")
}

// loadConfigAndLogger loads configuration from cfgFile and initializes the
// process-wide logger from it. Every subcommand calls this first.
func loadConfigAndLogger() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}
