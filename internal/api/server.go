package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/ecoscout/ecoscout-go/internal/api/middleware"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/ledger"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/mediastore"
	"github.com/ecoscout/ecoscout-go/internal/model"
	"github.com/ecoscout/ecoscout-go/internal/processor"
)

// Analyzer is what the API needs from the processor.
type Analyzer interface {
	Process(ctx context.Context, filename string, r io.Reader, progress processor.ProgressFunc) (*model.AnalysisRecord, error)
	History(ctx context.Context) []model.AnalysisRecord
	Record(ctx context.Context, id string) (model.AnalysisRecord, bool)
	Delete(ctx context.Context, ids []string) (ledger.PurgeResult, string, error)
}

// ReportGenerator renders a record's PDF report into the results area and
// returns its name there.
type ReportGenerator interface {
	Generate(rec *model.AnalysisRecord) (string, error)
}

// Server is the HTTP server. It owns the echo instance and its routes.
type Server struct {
	echo    *echo.Echo
	config  *Config
	log     logger.Logger
	version string

	analyzer Analyzer
	reports  ReportGenerator
	store    *mediastore.Store
	metrics  http.Handler

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetricsHandler serves handler at the configured metrics path.
func WithMetricsHandler(handler http.Handler) ServerOption {
	return func(s *Server) { s.metrics = handler }
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) ServerOption {
	return func(s *Server) { s.version = version }
}

// WithLogger replaces the api module logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// New creates a server with every route registered.
func New(config *Config, analyzer Analyzer, reports ReportGenerator, store *mediastore.Store, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.New(fmt.Errorf("invalid server configuration: %w", err)).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if analyzer == nil || reports == nil || store == nil {
		return nil, errors.Newf("api server requires a processor, a report generator and a media store").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    config,
		analyzer:  analyzer,
		reports:   reports,
		store:     store,
		version:   "dev",
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout
	s.echo.HTTPErrorHandler = s.httpErrorHandler

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized", logger.String("address", config.Address()))
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewCorrelationID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/health" || c.Path() == s.config.MetricsPath
	}))
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowCredentials: true,
	}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

func (s *Server) setupRoutes() {
	s.echo.GET("/", s.root)

	var uploadMiddleware []echo.MiddlewareFunc
	if s.config.RateLimitEnabled {
		uploadMiddleware = append(uploadMiddleware, mw.NewRateLimiter(s.config.Rate, s.config.Burst))
	}
	s.echo.POST("/upload", s.upload, uploadMiddleware...)

	s.echo.GET("/history", s.getHistory)
	s.echo.DELETE("/history", s.deleteHistory)
	s.echo.GET("/report/:id", s.getReport)
	s.echo.GET("/results/*", s.getResult)
	s.echo.GET("/health", s.health)

	if s.metrics != nil && s.config.MetricsPath != "" {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics))
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", logger.String("address", s.config.Address()))
		if err := s.echo.Start(s.config.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.New(fmt.Errorf("server error: %w", err)).
				Component("api").
				Category(errors.CategoryNetwork).
				Build()
		}
		return nil
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
