// Package server exposes the assistant over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/ziadkadry99/erp-copilot/internal/assistant"
	"github.com/ziadkadry99/erp-copilot/internal/audit"
	"github.com/ziadkadry99/erp-copilot/internal/db"
	"github.com/ziadkadry99/erp-copilot/internal/skills"
)

// Config holds server configuration.
type Config struct {
	Port           int
	AllowAll       bool     // allow all CORS origins (dev mode)
	AllowedOrigins []string // extra CORS origins
	RequestTimeout time.Duration
}

// Server is the HTTP front of the assistant.
type Server struct {
	cfg        Config
	db         *db.DB
	loader     *skills.Loader
	assistant  *assistant.Assistant
	audit      *audit.Store
	router     chi.Router
	httpServer *http.Server
}

// New creates a server. asst may be nil, in which case the ask
// endpoints answer 503.
func New(cfg Config, database *db.DB, loader *skills.Loader, asst *assistant.Assistant) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	s := &Server{
		cfg:       cfg,
		db:        database,
		loader:    loader,
		assistant: asst,
		audit:     audit.NewStore(database),
	}

	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger)
	r.Use(Tracing)
	r.Use(middleware.Recoverer)

	// CORS
	corsOpts := cors.Options{
		AllowedOrigins:   append([]string{"http://localhost:*", "http://127.0.0.1:*"}, s.cfg.AllowedOrigins...),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantHeader, CallerHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := s.db.PingContext(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": status})
	})

	r.Get("/api/skills", s.handleCatalog)
	r.Get("/api/tenants/{tenant}/skills", s.handleTenantSkills)

	r.Group(func(r chi.Router) {
		r.Use(Tenant)
		r.With(middleware.Timeout(s.cfg.RequestTimeout)).Post("/api/ask", s.handleAsk)
		r.Get("/api/ask/ws", s.handleAskWebSocket)
		audit.RegisterRoutes(r, s.audit, func(r *http.Request) string { return TenantID(r.Context()) })
	})

	return r
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Int("port", s.cfg.Port).Msg("erpcopilot server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
