// Package web provides the HTTP API for submitting and following identity imports.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/userimport/internal/config"
	"github.com/JonMunkholm/userimport/internal/core"
	mw "github.com/JonMunkholm/userimport/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP server for the import API.
type Server struct {
	service *core.Service
	access  core.AccessStore
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server. access resolves group-scoped import permissions.
func NewServer(service *core.Service, access core.AccessStore, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		access:  access,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(mw.NewRateLimiter(s.cfg.Rate.RequestsPerMinute).Handler)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		r.Use(actingAccount)

		r.Get("/template", s.handleTemplate)

		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(mw.NewRateLimiter(s.cfg.Rate.ImportLimit).Handler)
			}
			r.Post("/imports", s.handleImport)
			r.Post("/groups/{groupID}/imports", s.handleGroupImport)
		})

		r.Get("/imports", s.handleHistory)
		r.Get("/imports/{jobID}", s.handleProgressSnapshot)
		r.Get("/imports/{jobID}/progress", s.handleProgress)
		r.Get("/imports/{jobID}/result", s.handleResult)
		r.Post("/imports/{jobID}/cancel", s.handleCancel)
		r.Get("/imports/{jobID}/failed-rows", s.handleFailedRows)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"limiter": s.service.LimiterStatus(),
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
