// Package web provides the HTTP API for running imports and suggesting
// column mappings.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/crmimport/internal/config"
	"github.com/JonMunkholm/crmimport/internal/importer"
	"github.com/JonMunkholm/crmimport/internal/web/middleware"
)

// Importer runs imports. Satisfied by *importer.Service.
type Importer interface {
	Import(ctx context.Context, req importer.Request, src importer.RowSource) (*importer.Result, error)
	Limiter() *importer.ImportLimiter
}

// Pinger reports whether a backing dependency is reachable.
type Pinger func(ctx context.Context) error

// Server is the HTTP server for the import API.
type Server struct {
	importer Importer
	cfg      *config.Config
	ping     Pinger
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a Server. ping may be nil.
func NewServer(imp Importer, cfg *config.Config, ping Pinger) *Server {
	s := &Server{
		importer: imp,
		cfg:      cfg,
		ping:     ping,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		r.Get("/fields/{entity}", s.handleFields)
		r.Post("/columns/{entity}/suggest", s.handleSuggest)
		r.Post("/import/{entity}", s.handleImport)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// healthTimeout bounds the dependency ping in /healthz.
const healthTimeout = 2 * time.Second

// handleHealth reports limiter status and database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status   string                  `json:"status"`
		Database string                  `json:"database,omitempty"`
		Imports  *importer.LimiterStatus `json:"imports,omitempty"`
	}{Status: "ok"}

	if l := s.importer.Limiter(); l != nil {
		st := l.Status()
		resp.Imports = &st
	}

	status := http.StatusOK
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			resp.Status, resp.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	writeJSONStatus(w, status, resp)
}
