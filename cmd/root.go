// Package cmd implements the sentinel command line
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/telemetry"
)

// BuildInfo is stamped at link time
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

type globalFlags struct {
	configPath string
	debug      bool
}

// runtime is what every subcommand needs before doing anything
type runtime struct {
	cfg      *config.Config
	logger   *logger.Logger
	reporter *telemetry.Reporter
}

// RootCommand creates and returns the root command
func RootCommand(build BuildInfo) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "sentinel",
		Short:         "Insect detection field appliance",
		Version:       build.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		runCommand(flags, build),
		drainCommand(flags),
		probeCommand(flags),
		sensorCommand(flags),
	)
	return rootCmd
}

// setup loads and validates the configuration and builds the logger with
// error reporting attached
func setup(flags *globalFlags) (*runtime, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(logger.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	reporter, err := telemetry.NewReporter(cfg.Sentinel.Telemetry, log)
	if err != nil {
		log.Warn("Error reporting disabled", "error", err)
		reporter = nil
	}
	if reporter.Enabled() {
		log = log.WithOptions(zap.Hooks(reporter.Hook()))
	}

	return &runtime{cfg: cfg, logger: log, reporter: reporter}, nil
}
