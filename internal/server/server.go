package server

import (
	"context"
	"errors"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"mediadupfinder/internal/config"
	"mediadupfinder/internal/ffmpeg"
	"mediadupfinder/internal/fileutil"
	"mediadupfinder/internal/metrics"
	"mediadupfinder/internal/models"
	"mediadupfinder/internal/scan"
)

// FrameSource decodes the frame a video thumbnail was taken from
type FrameSource interface {
	Frame(ctx context.Context, path string, ts float64) (image.Image, error)
}

// Server exposes scans and their results to a local UI
type Server struct {
	cfg         config.Config
	roots       []string
	engine      *scan.Engine
	engineOpts  []scan.Option
	frames      FrameSource
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	idleTimeout time.Duration
	echo        *echo.Echo

	mu           sync.Mutex
	lastActivity time.Time
	clientActive bool
	cancelScan   context.CancelFunc
	scanDone     chan struct{}
	done, total  int
	result       *models.ScanResult
	lastErr      string
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics serves m on /metrics and records scans into it
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithIdleTimeout shuts the server down after d without requests or an
// active client. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithFrameSource sets the decoder used for video thumbnails
func WithFrameSource(f FrameSource) Option {
	return func(s *Server) {
		s.frames = f
	}
}

// WithEngineOptions passes extra options to the scan engine
func WithEngineOptions(opts ...scan.Option) Option {
	return func(s *Server) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithResult preloads the result of an earlier scan
func WithResult(r *models.ScanResult) Option {
	return func(s *Server) {
		s.result = r
	}
}

// New creates a Server that scans roots with cfg
func New(cfg config.Config, roots []string, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		roots:        roots,
		logger:       zerolog.Nop(),
		lastActivity: time.Now(),
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.frames == nil {
		s.frames = ffmpeg.NewRunner(cfg.FFmpegPath, cfg.FFprobePath)
	}

	engineOpts := append([]scan.Option{
		scan.WithLogger(s.logger),
		scan.WithMetrics(s.metrics),
		scan.WithProgress(s.progress),
	}, s.engineOpts...)
	s.engine = scan.NewEngine(cfg, engineOpts...)

	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
	}))
	e.Use(s.trackActivity)

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/scan", s.handleScan)
	api.POST("/scan/cancel", s.handleCancel)
	api.GET("/groups", s.handleGroups)
	api.GET("/errors", s.handleErrors)
	api.GET("/thumbnail", s.handleThumbnail)
	api.POST("/delete", s.handleDelete)
	api.POST("/heartbeat", s.handleHeartbeat)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	return e
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is cancelled or the idle timeout fires
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if s.idleTimeout > 0 {
		go s.idleTimeoutChecker()
	}

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down server")
	case <-s.shutdownChan:
		s.logger.Info().Dur("idle_timeout", s.idleTimeout).Msg("idle timeout reached, shutting down server")
	}

	s.stopScan()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) idleTimeoutChecker() {
	interval := min(10*time.Second, s.idleTimeout/2)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.idleFor() >= s.idleTimeout {
				s.shutdownOnce.Do(func() { close(s.shutdownChan) })
				return
			}
		case <-s.shutdownChan:
			return
		}
	}
}

// idleFor reports how long the server has been idle. An active client or a
// running scan keeps it busy.
func (s *Server) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientActive || s.cancelScan != nil {
		s.lastActivity = time.Now()
		return 0
	}
	return time.Since(s.lastActivity)
}

func (s *Server) trackActivity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		return next(c)
	}
}

func (s *Server) progress(done, total int, _ string) {
	s.mu.Lock()
	s.done, s.total = done, total
	s.mu.Unlock()
}

// stopScan cancels a running scan and waits for it to unwind
func (s *Server) stopScan() {
	s.mu.Lock()
	cancel, done := s.cancelScan, s.scanDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the running scan, if any, has finished
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.scanDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Server) startScan(roots []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelScan != nil {
		return models.ErrScanInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancelScan = cancel
	s.scanDone = done
	s.done, s.total = 0, 0
	s.lastErr = ""

	go func() {
		defer close(done)
		defer cancel()

		result, err := s.runScan(ctx, roots)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancelScan = nil
		if err != nil {
			s.lastErr = err.Error()
			if !errors.Is(err, models.ErrCancelledScan) {
				s.logger.Error().Err(err).Msg("scan failed")
			}
			return
		}
		s.result = result
	}()
	return nil
}

func (s *Server) runScan(ctx context.Context, roots []string) (*models.ScanResult, error) {
	files, walkErrs, err := fileutil.Walk(ctx, roots)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.ErrCancelledScan
		}
		return nil, err
	}

	result, err := s.engine.Run(ctx, files)
	if err != nil {
		return nil, err
	}
	result.AddErrors(walkErrs)
	return result, nil
}
