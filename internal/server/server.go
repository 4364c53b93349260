// Package server is the HTTP API surface: narratives, signals, briefings
// and admin endpoints over persistence, signals and briefing, served on a
// chi router + middleware stack (request id, real ip, structured logging,
// recoverer, CORS).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"narrative-core/internal/briefing"
	"narrative-core/internal/config"
	"narrative-core/internal/cost"
	"narrative-core/internal/logger"
	"narrative-core/internal/persistence"
	"narrative-core/internal/scheduler"
	"narrative-core/internal/signals"
	"narrative-core/internal/store"
)

// Server is the HTTP API: chi router plus every dependency its handlers need.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     config.Server

	store      persistence.Store
	signals    *signals.Detector
	briefing   *briefing.Generator
	ledger     *cost.Ledger
	llmCache   *store.Store
	scheduler  *scheduler.Scheduler

	log       zerolog.Logger
	startedAt time.Time
}

// Dependencies bundles everything New needs beyond the transport config.
// Signals, briefing, ledger, llmCache and scheduler are optional (nil is
// fine) — handlers that rely on a missing dependency respond 503 rather
// than panic, since a narrow deployment (e.g. ingestion-only) may not wire
// all of them.
type Dependencies struct {
	Store     persistence.Store
	Signals   *signals.Detector
	Briefing  *briefing.Generator
	Ledger    *cost.Ledger
	LLMCache  *store.Store
	Scheduler *scheduler.Scheduler
}

// New builds a Server with routes and middleware installed but not yet
// listening.
func New(cfg config.Server, deps Dependencies) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		store:     deps.Store,
		signals:   deps.Signals,
		briefing:  deps.Briefing,
		ledger:    deps.Ledger,
		llmCache:  deps.LLMCache,
		scheduler: deps.Scheduler,
		log:       logger.With("server"),
		startedAt: time.Now().UTC(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(zerologMiddleware(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(securityHeaders)

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "X-API-Key", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	if s.config.RateLimit.Enabled {
		s.router.Use(middleware.Throttle(s.config.RateLimit.RequestsPerMinute))
	}
}

// setupRoutes wires every route under /api/v1. A specific route
// (/narratives/{id}/articles) is registered before the more general one
// it would otherwise shadow (/narratives/{id}).
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/signals/trending", s.handleSignalsTrending)

		r.Route("/narratives", func(r chi.Router) {
			r.Get("/active", s.handleNarrativesActive)
			r.Get("/archived", s.handleNarrativesArchived)
			r.Get("/resurrections", s.handleNarrativesResurrections)
			r.Get("/{id}/articles", s.handleNarrativeArticles)
			r.Get("/{id}", s.handleNarrativeByID)
		})

		r.Get("/articles/recent", s.handleArticlesRecent)

		r.Route("/briefing", func(r chi.Router) {
			r.Get("/", s.handleBriefingLatest)
			r.Get("/morning", s.handleBriefingMorning)
			r.Get("/afternoon", s.handleBriefingAfternoon)
			r.Get("/evening", s.handleBriefingEvening)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/trigger-briefing", s.handleTriggerBriefing)

			r.Route("/api-costs", func(r chi.Router) {
				r.Get("/summary", s.handleCostSummary)
				r.Get("/daily", s.handleCostDaily)
				r.Get("/by-model", s.handleCostByModel)
			})

			r.Route("/cache", func(r chi.Router) {
				r.Get("/stats", s.handleCacheStats)
				r.Post("/clear-expired", s.handleCacheClearExpired)
			})
		})
	})
}

// Start runs the HTTP server; it blocks until Shutdown is called or the
// server fails to start.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the underlying chi router, useful for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
