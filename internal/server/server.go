// Package server exposes the selection pipeline over HTTP: a small JSON API
// for CI integrations plus a webhook endpoint that feeds job events into the
// lifecycle controller and the learning loop.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/wolfram-laube/backoffice/internal/decision"
	"github.com/wolfram-laube/backoffice/internal/lifecycle"
	"github.com/wolfram-laube/backoffice/internal/logging"
	"github.com/wolfram-laube/backoffice/internal/observability"
)

// Config controls the HTTP listener.
type Config struct {
	Addr            string
	WebhookSecret   string
	AllowOrigins    []string
	ShutdownTimeout time.Duration
	Debug           bool
	RunnerKeys      map[int]string // status-API runner ID -> runner key
}

// Server hosts the JSON API.
type Server struct {
	cfg        Config
	facade     *decision.Facade
	lifecycle  *lifecycle.Controller
	metrics    *observability.MetricsCollector
	logger     logging.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds the server and registers all routes.
func New(cfg Config, facade *decision.Facade, lc *lifecycle.Controller, metrics *observability.MetricsCollector, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Gitlab-Token"}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		facade:    facade,
		lifecycle: lc,
		metrics:   metrics,
		logger:    logging.OrNop(logger),
		engine:    engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		if h := s.metrics.Handler(); h != nil {
			s.engine.GET("/metrics", gin.WrapH(h))
		}
	}
	s.engine.POST("/webhook", s.handleWebhook)

	api := s.engine.Group("/api/v1")
	api.POST("/select", s.handleSelect)
	api.POST("/outcome", s.handleOutcome)
	api.GET("/stats", s.handleStats)
	api.POST("/reset", s.handleReset)
	api.GET("/decisions", s.handleDecisions)
	api.GET("/lifecycle", s.handleLifecycle)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening on %s", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("server: shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
