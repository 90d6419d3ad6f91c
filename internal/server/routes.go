package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/observability"
	"github.com/relaypool/relaypool/internal/server/handlers"
)

// AdminTokenEnv enables the admin signal endpoint when set.
const AdminTokenEnv = "RELAYPOOL_ADMIN_TOKEN"

func (s *Server) registerRoutes() {
	health := s.cfg.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	if api := s.cfg.API; api != nil {
		s.router.Route("/v1", func(r chi.Router) {
			r.Get("/pool", api.Status)
			r.Post("/pool/{index}/probe", api.Probe)
			r.Post("/pool/{index}/reset", api.Reset)
			r.Post("/rpc", api.Call)
		})
	}

	s.registerAdminEndpoint()
}

func (s *Server) registerAdminEndpoint() {
	logger := observability.Active()

	if s.cfg.AdminToken == "" {
		logger.Debug("Admin signal endpoint disabled (no " + AdminTokenEnv + " set)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.cfg.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("auth", "bearer token"),
		zap.String("rate_limit", "10/min, burst 5"))
	logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
