package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/observability"
	"github.com/openmkt/openmkt/internal/server/handlers"
	servermw "github.com/openmkt/openmkt/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.registerHealth()

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	if m := s.opts.Marketplace; m != nil {
		s.router.Post("/notify", m.Notify)
		s.router.Post("/chat/session", m.ChatSession)
		s.router.Get("/chat/unread", m.ChatUnread)
		s.router.Get("/chat/messages", m.ChatMessages)
		s.router.Post("/marketplace/register", m.Register)
		s.router.Post("/admin/report", m.Report)

		// Paths used by the existing web client.
		s.router.Post("/api/bot/notify", m.Notify)
		s.router.Post("/api/chat/session", m.ChatSession)
		s.router.Get("/api/proxy/chat/unread", m.ChatUnread)
		s.router.Get("/api/proxy/chat/messages", m.ChatMessages)
		s.router.Post("/api/marketplace/register", m.Register)
		s.router.Post("/api/admin/report", m.Report)
	}

	s.registerAdminEndpoints()
}

func (s *Server) registerHealth() {
	if hm := s.opts.Health; hm != nil {
		s.router.Get("/health", hm.HealthHandler)
		s.router.Get("/health/live", hm.LivenessHandler)
		s.router.Get("/health/ready", hm.ReadinessHandler)
		s.router.Get("/health/startup", hm.StartupHandler)
		return
	}
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)
}

// registerAdminEndpoints mounts operator routes behind the admin token.
func (s *Server) registerAdminEndpoints() {
	logger := observability.Server()
	token := s.opts.AdminToken

	if token == "" {
		logger.Debug("Admin endpoints disabled (no admin token set)")
		return
	}

	auth := servermw.AdminAuth(token)
	if a := s.opts.Admin; a != nil {
		s.router.Route("/admin", func(r chi.Router) {
			r.Use(auth)
			r.Get("/rate-limits", a.RateLimits)
			r.Get("/rate-limits/{did}", a.RateLimitStatus)
			r.Post("/rate-limits/sweep", a.SweepRateLimits)
			r.Get("/chat-sessions", a.ChatSessions)
			r.Delete("/chat-sessions/{did}", a.RemoveChatSession)
		})
	}

	signalHandler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Method(http.MethodPost, "/admin/signal", signalHandler)

	logger.Info("Admin endpoints enabled",
		zap.String("prefix", "/admin"),
		zap.String("auth", "bearer token"),
		zap.String("signal_rate_limit", "10/min, burst 5"))
	logger.Warn("Admin endpoints enabled - ensure this server is not exposed to public internet")
}
