// Package commands implements the chartrsi command line.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"chart-rsi/config"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chartrsi",
	Short: "Recover an RSI series from a price chart image",
	Long: `chartrsi traces the price line of a single-series chart image, maps it onto
the calibrated price axis, smooths it and computes the Relative Strength Index.

It runs either as an HTTP service accepting chart uploads (serve) or as a
one-shot tool on a local image file (analyze).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "YAML config file (missing file is fine)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
}

// loadConfig loads the config file plus CHARTRSI_* overrides, then applies
// flag overrides.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
