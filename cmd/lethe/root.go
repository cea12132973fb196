package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/engine"
	"mercator-hq/lethe/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	format  string

	// stdout receives command results; tests swap it.
	stdout io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "lethe",
	Short: "Lethe - data retention lifecycle engine",
	Long: `Lethe decides when every record a system holds must be deleted or
anonymized, carries that out across the stores holding the record, and
proves it afterwards.

It provides:
  - A versioned policy catalog of retention rules per data category
  - Scheduled deletion sweeps, aggregation and audit scans
  - Legal holds that block erasure until released
  - A hash-chained audit log and per-record deletion certificates`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "text", "output format: text, json, csv")
}

// loadConfig reads the config file with environment overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the slog default. Verbose
// forces debug level.
func setupLogging(cfg *config.Config) error {
	logCfg := logging.FromConfig(cfg.Telemetry.Logging, os.Stderr)
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger.Slog())
	return nil
}

// openEngine builds an engine for a one-shot command. The scheduler and the
// catalog watcher stay off; the command drives the engine directly.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}
	cfg.Scheduler.Enabled = false
	cfg.Catalog.Watch = false

	e, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return e, nil
}

// output writes a command result in the --format selected.
func output(data any) error {
	f, err := cli.ParseFormat(format)
	if err != nil {
		return err
	}
	return cli.NewFormatter(f).FormatTo(stdout, data)
}
