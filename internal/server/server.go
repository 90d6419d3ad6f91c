package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/relaypool/relaypool/internal/errors"
	"github.com/relaypool/relaypool/internal/observability"
	"github.com/relaypool/relaypool/internal/server/handlers"
	servermw "github.com/relaypool/relaypool/internal/server/middleware"
)

// Config carries what the router needs beyond the listen address.
type Config struct {
	Host string
	Port int

	// Health serves /health/*; a manager with no checkers is used when nil.
	Health *handlers.HealthManager
	// API serves /v1; the routes are omitted when nil.
	API *handlers.PoolAPI
	// AdminToken enables POST /admin/signal when set.
	AdminToken string
	// WriteTimeout bounds a whole response, including /v1/rpc retries.
	WriteTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
}

// New creates a new HTTP server instance
func New(cfg Config) *Server {
	if cfg.Health == nil {
		cfg.Health = handlers.NewHealthManager(handlers.AppVersion)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 90 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	// RequestID → Metrics → Error handling → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.ErrorHandler)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{router: r, cfg: cfg}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	observability.Active().Info("Starting HTTP server",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	observability.Active().Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured server port
func (s *Server) Port() int {
	return s.cfg.Port
}
