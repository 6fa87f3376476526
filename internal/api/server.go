// Package api exposes the engine's status surface over HTTP and
// websocket. Consumers decide how to render it; nothing here draws UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quantumlife/cadence/internal/core"
	"github.com/quantumlife/cadence/internal/engine"
	"github.com/quantumlife/cadence/internal/logging"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	engine     *engine.Controller
	hub        *Hub
	log        *logging.Logger
}

// Config for the server
type Config struct {
	Host   string
	Port   int
	Engine *engine.Controller
}

// New creates a new API server
func New(cfg Config) *Server {
	s := &Server{
		engine: cfg.Engine,
		hub:    NewHub(),
		log:    logging.WithField("component", "api"),
	}

	s.setupRouter()

	// Push the recommendation the moment drift becomes significant.
	s.engine.OnReoptimizeRecommended(func() {
		s.hub.Broadcast("recommendation", s.engine.Status())
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/changes", s.handleChanges)
		r.Get("/drift", s.handleDrift)
		r.Post("/sync", s.handleSync)
		r.Post("/optimize", s.handleOptimize)
		r.Post("/recommendation/clear", s.handleClearRecommendation)
	})

	r.Get("/ws", s.hub.HandleWS)

	s.router = r
}

// Router returns the underlying router (used by tests).
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Status()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"changes": status.Changes,
		"count":   status.Changes.Total(),
	})
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Drift())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	changes, err := s.engine.Sync(r.Context())
	if err != nil {
		respondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	s.hub.Broadcast("status", s.engine.Status())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"changes": changes,
		"count":   changes.Total(),
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Optimize(r.Context())
	if err != nil {
		respondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	s.hub.Broadcast("status", s.engine.Status())
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleClearRecommendation(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearRecommendation()
	s.hub.Broadcast("status", s.engine.Status())
	respondJSON(w, http.StatusOK, map[string]string{"message": "recommendation cleared"})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, core.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrProviderTransient), errors.Is(err, core.ErrProviderPermanent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("encode response: %v", err)
	}
}
