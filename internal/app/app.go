// Package app assembles the EcoScout components from settings for the CLI
// commands.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ecoscout/ecoscout-go/internal/analysis"
	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/detector"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/events"
	"github.com/ecoscout/ecoscout-go/internal/ledger"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/mediastore"
	"github.com/ecoscout/ecoscout-go/internal/observability"
	"github.com/ecoscout/ecoscout-go/internal/ocr"
	"github.com/ecoscout/ecoscout-go/internal/processor"
	"github.com/ecoscout/ecoscout-go/internal/report"
)

const eventShutdownTimeout = 5 * time.Second

// App holds the assembled components. Processor and Events are nil unless
// the models were loaded with LoadAnalysis.
type App struct {
	Settings  *conf.Settings
	Metrics   *observability.Metrics
	Store     *mediastore.Store
	Ledger    *ledger.Ledger
	Reports   *report.Service
	Events    *events.Bus
	Pipeline  *analysis.Pipeline
	Processor *processor.Processor

	closers []func() error
}

// GetLogger returns the app module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// New opens the media store, the ledger and the report service. Models are
// not loaded, so history and report commands start quickly.
func New(settings *conf.Settings) (*App, error) {
	a := &App{Settings: settings}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategorySystem).
			Build()
	}
	a.Metrics = m

	store, err := mediastore.NewFromSettings(settings)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	backend, err := ledger.OpenBackend(settings)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Ledger = ledger.New(backend, ledger.WithMetrics(m.Ledger))
	a.closers = append(a.closers, a.Ledger.Close)

	a.Reports = report.NewService(report.NewPDFRenderer(settings.ViolationSet()), store, settings.Server.ReportCacheTTL)
	return a, nil
}

// LoadAnalysis loads the detector and recognizer, starts the event sinks and
// creates the processor.
func (a *App) LoadAnalysis() error {
	if a.Processor != nil {
		return nil
	}

	detCfg, err := detector.ConfigFromSettings(a.Settings)
	if err != nil {
		return err
	}
	det, err := detector.NewYOLO(detCfg)
	if err != nil {
		return err
	}

	rec, err := ocr.New(a.Settings)
	if err != nil {
		_ = det.Close()
		return err
	}

	pipeline, err := analysis.New(analysis.ConfigFromSettings(a.Settings), det, rec,
		analysis.WithMetrics(a.Metrics.Pipeline))
	if err != nil {
		_ = det.Close()
		_ = rec.Close()
		return err
	}
	a.Pipeline = pipeline
	a.closers = append(a.closers, pipeline.Close)

	bus, err := events.NewFromSettings(a.Settings, a.Metrics.Events)
	if err != nil {
		return err
	}
	a.Events = bus
	a.closers = append(a.closers, func() error { return bus.Shutdown(eventShutdownTimeout) })

	proc, err := processor.New(pipeline, a.Store, a.Ledger,
		processor.WithVideoSettings(a.Settings.Video),
		processor.WithPublisher(bus),
		processor.WithReports(a.Reports),
		processor.WithMetrics(a.Metrics.Pipeline),
	)
	if err != nil {
		return err
	}
	a.Processor = proc

	GetLogger().Info("analysis components loaded",
		logger.String("ocr_backend", a.Settings.OCR.Backend),
		logger.String("ledger_backend", a.Settings.Ledger.Backend))
	return nil
}

// Purge deletes records and their media without loading any model.
func (a *App) Purge(ctx context.Context, ids []string) (string, error) {
	res, err := a.Ledger.Purge(ctx, ids, a.Store)
	if err != nil {
		return "", err
	}
	a.Reports.Invalidate(ids...)
	return processor.DeleteMessage(res), nil
}

// Close releases everything in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("closing components: %w", errors.Join(errs...))
	}
	return nil
}
