// Package server provides the HTTP server and routing for the allocator.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/vaultpilot/allocator/internal/di"
	behaviorhandlers "github.com/vaultpilot/allocator/internal/modules/behavior/handlers"
	historyhandlers "github.com/vaultpilot/allocator/internal/modules/history/handlers"
	rebalancinghandlers "github.com/vaultpilot/allocator/internal/modules/rebalancing/handlers"
	riskprofilehandlers "github.com/vaultpilot/allocator/internal/modules/riskprofile/handlers"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	Container *di.Container    // DI container with all services
	Jobs      *di.JobInstances // Jobs for manual triggering
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	port           int
	container      *di.Container
	systemHandlers *SystemHandlers

	// closing ends long-lived stream connections on shutdown.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		port:      cfg.Port,
		container: cfg.Container,
		closing:   make(chan struct{}),
	}
	s.systemHandlers = NewSystemHandlers(cfg.Container, cfg.Jobs, cfg.Log)

	s.setupMiddleware()
	s.setupRoutes(cfg.DevMode)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware shared by every route
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.container.Metrics.InstrumentHandler)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))
}

// bounded applies request timeout and compression. Event streams are
// registered outside it.
func bounded(devMode bool) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{middleware.Timeout(60 * time.Second)}
	if !devMode {
		mws = append(mws, middleware.Compress(5))
	}
	return mws
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(devMode bool) {
	c := s.container

	rebalancingHandler := rebalancinghandlers.NewHandler(c.RebalancingService, s.log)
	historyHandler := historyhandlers.NewHandler(c.HistoryRepo, c.TrendService, s.log)
	riskHandler := riskprofilehandlers.NewHandler(c.RiskScorer, s.log)
	behaviorHandler := behaviorhandlers.NewHandler(c.BehaviorService, s.log)
	streamHandler := NewEventsStreamHandler(c.EventBus, s.closing, s.log)
	wsHandler := NewEventsWebSocketHandler(c.EventBus, s.closing, s.log)

	s.router.Group(func(r chi.Router) {
		r.Use(bounded(devMode)...)

		r.Get("/health", s.systemHandlers.HandleHealth)
		r.Handle("/metrics", c.Metrics.Handler())

		// Root-level endpoints kept for existing callers
		rebalancingHandler.RegisterLegacyRoutes(r)
		riskHandler.RegisterLegacyRoutes(r)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", streamHandler.ServeHTTP)
		r.Get("/events/ws", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(bounded(devMode)...)

			rebalancingHandler.RegisterRoutes(r)
			historyHandler.RegisterRoutes(r)
			riskHandler.RegisterRoutes(r)
			behaviorHandler.RegisterRoutes(r)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Post("/maintenance", s.systemHandlers.HandleRunMaintenance)
				r.Post("/backup", s.systemHandlers.HandleRunBackup)
				r.Get("/backups", s.systemHandlers.HandleListBackups)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown closes event streams and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.closeOnce.Do(func() { close(s.closing) })
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
