package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/engine"
	"mercator-hq/lethe/pkg/server"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	noScheduler   bool
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the lethe server",
	Long: `Start the HTTP server and the job scheduler with the specified configuration.

Examples:
  # Start with default config
  lethe run

  # Start with custom config
  lethe run --config /etc/lethe/config.yaml

  # Serve the API without running scheduled jobs on this instance
  lethe run --no-scheduler

  # Validate config without starting server
  lethe run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.noScheduler, "no-scheduler", false, "do not run scheduled jobs")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if runFlags.noScheduler {
		cfg.Scheduler.Enabled = false
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Fprintln(stdout, "✓ Configuration valid")
		return nil
	}

	printBanner(cfg)

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			slog.Error("Tracer shutdown failed", "error", err)
		}
	}()

	e, err := engine.New(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			slog.Error("Engine close failed", "error", err)
		}
	}()

	if err := e.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintf(stdout, "✓ Engine started (erasure targets: %v)\n", e.ErasureTargets())
	if git := cfg.Catalog.Git; git.Enabled {
		fmt.Fprintf(stdout, "✓ Catalog repository: %s@%s (every %s)\n", git.Repository, git.Branch, git.PollInterval)
	}

	srv := server.NewServer(cfg, e, server.VersionInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})
	addr, err := srv.Listen()
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	scheme := "http"
	if cfg.Security.TLS.Enabled {
		scheme = "https"
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "✓ Server listening on %s://%s\n", scheme, addr)
	if cfg.Telemetry.Health.Enabled {
		fmt.Fprintf(stdout, "✓ Health endpoint: %s://%s%s\n", scheme, addr, cfg.Telemetry.Health.LivenessPath)
	}
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(stdout, "✓ Metrics endpoint: %s://%s%s\n", scheme, addr, cfg.Telemetry.Metrics.Path)
	}
	if tracer.Enabled() {
		fmt.Fprintf(stdout, "✓ Tracing: %s (sampler %s)\n", cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.Sampler)
	}
	if cfg.Security.Authentication.Enabled {
		fmt.Fprintf(stdout, "✓ API key authentication: %d keys\n", len(cfg.Security.Authentication.Keys))
	}
	fmt.Fprintln(stdout, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(stdout, "✓ Server stopped")
	return nil
}

func printBanner(cfg *config.Config) {
	fmt.Fprintf(stdout, "Lethe v%s\n", Version)
	fmt.Fprintf(stdout, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(stdout, "✓ Configuration loaded")

	slog.Debug("storage backend", "backend", cfg.Storage.Backend)
	if cfg.Catalog.FilePath != "" {
		slog.Debug("catalog file", "path", cfg.Catalog.FilePath, "watch", cfg.Catalog.Watch)
	}
	if cfg.Catalog.Git.Enabled {
		slog.Debug("catalog repository", "repository", cfg.Catalog.Git.Repository, "path", cfg.Catalog.Git.Path, "auth", cfg.Catalog.Git.Auth.Type)
	}
	if cfg.Scheduler.Enabled {
		slog.Debug("scheduler enabled",
			"worker_id", cfg.Scheduler.WorkerID,
			"daily", cfg.Scheduler.DailySchedule,
			"weekly", cfg.Scheduler.WeeklySchedule,
			"monthly", cfg.Scheduler.MonthlySchedule,
		)
	}
}
