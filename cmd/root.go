// Package cmd wires the EcoScout command line.
package cmd

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ecoscout/ecoscout-go/cmd/analyze"
	"github.com/ecoscout/ecoscout-go/cmd/history"
	"github.com/ecoscout/ecoscout-go/cmd/report"
	"github.com/ecoscout/ecoscout-go/cmd/serve"
	"github.com/ecoscout/ecoscout-go/cmd/version"
	"github.com/ecoscout/ecoscout-go/internal/app"
	"github.com/ecoscout/ecoscout-go/internal/buildinfo"
	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// Options are the global flags shared by every subcommand.
type Options struct {
	ConfigFile string
	Debug      bool
}

// RootCommand creates and returns the root command. Settings are loaded once
// in PersistentPreRunE and handed to subcommands through the loader.
func RootCommand() *cobra.Command {
	opts := &Options{}
	var settings *conf.Settings

	load := func() (*app.App, error) {
		if settings == nil {
			return nil, fmt.Errorf("settings not loaded")
		}
		return app.New(settings)
	}

	rootCmd := &cobra.Command{
		Use:           "ecoscout",
		Short:         "EcoScout environmental violation detector",
		Long:          "Detect littering and smoke in images and videos, read licence plates and keep an evidence ledger.",
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "Enable debug output")

	versionCmd := version.Command()
	rootCmd.AddCommand(
		serve.Command(load),
		analyze.Command(load),
		history.Command(load),
		report.Command(load),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		s, err := initialize(opts)
		if err != nil {
			return err
		}
		settings = s
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		errors.FlushSentry(sentryFlushTimeout)
	}

	return rootCmd
}

// initialize loads .env and settings, then sets up logging and telemetry.
func initialize(opts *Options) (*conf.Settings, error) {
	// a missing .env is normal
	_ = godotenv.Load()

	settings, err := conf.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Debug {
		settings.Debug = true
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Sentry.Enabled {
		build := buildinfo.Current()
		if err := errors.InitSentry(settings.Sentry.DSN, build.Release(), settings.Sentry.Environment); err != nil {
			logger.Global().Module("main").Warn("error telemetry disabled", logger.Error(err))
		}
	}

	return settings, nil
}
