package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/AleeDevp/italihub-moderation/internal/audit"
	"github.com/AleeDevp/italihub-moderation/internal/auth"
	"github.com/AleeDevp/italihub-moderation/internal/db"
	"github.com/AleeDevp/italihub-moderation/internal/moderation"
	"github.com/AleeDevp/italihub-moderation/internal/notifications"
)

// Config holds server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	AllowAll    bool // allow all CORS origins (dev mode)
}

// Deps are the wired feature components the server exposes over HTTP.
type Deps struct {
	DB            *db.DB
	Verifier      *auth.Verifier
	Engine        *moderation.Engine
	Notifications *notifications.Store
	Hub           *notifications.Hub
	Audit         *audit.Store
}

// Server is the moderation service's HTTP front.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
}

// New creates a Server with all dependencies wired into the router.
func New(cfg Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// No global timeout: the SSE and WebSocket endpoints hold their
	// connections open.

	// CORS
	corsOpts := cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
		corsOpts.AllowCredentials = false
	}
	if len(corsOpts.AllowedOrigins) == 0 {
		corsOpts.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(corsOpts))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Every API route requires a valid token. The notification surface is
	// open to any signed-in user; moderation and the audit trail require
	// the moderator role.
	r.Group(func(r chi.Router) {
		r.Use(s.deps.Verifier.Middleware)

		notifications.RegisterRoutes(r, s.deps.Notifications, s.deps.Hub)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleModerator))
			moderation.RegisterRoutes(r, s.deps.Engine)
			audit.RegisterRoutes(r, s.deps.Audit)
		})
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("server: listening on %s", s.cfg.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
