package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ecoscout/ecoscout-go/internal/api"
	"github.com/ecoscout/ecoscout-go/internal/app"
	"github.com/ecoscout/ecoscout-go/internal/buildinfo"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Command starts the HTTP API.
func Command(load func() (*app.App, error)) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Load the detection and OCR models and serve uploads, history, reports and result files over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					app.GetLogger().Warn("shutdown completed with errors", logger.Error(cerr))
				}
			}()

			if host != "" {
				a.Settings.Server.Host = host
			}
			if port != 0 {
				a.Settings.Server.Port = port
			}
			return run(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen address (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides server.port)")
	return cmd
}

func run(parent context.Context, a *app.App) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.LoadAnalysis(); err != nil {
		return err
	}

	opts := []api.ServerOption{api.WithVersion(buildinfo.Current().Version())}
	if a.Settings.Metrics.Enabled {
		opts = append(opts, api.WithMetricsHandler(a.Metrics.Handler()))
	}
	server, err := api.New(api.ConfigFromSettings(a.Settings), a.Processor, a.Reports, a.Store, opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		app.GetLogger().Info("shutting down")
		return nil
	})
	return g.Wait()
}
