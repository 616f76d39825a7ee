package main

import (
	"net/http"

	"finsight/internal/shared/config"
	"finsight/internal/shared/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.AllowedHosts))
	r.Use(middleware.SecurityHeaders(cfg.TLS.Enabled))

	// Health check
	r.Get("/health", deps.HealthHandler.HandleHealth)

	// Per-IP throttling on the endpoints that reach the aggregator on behalf of anyone
	var limited []func(http.Handler) http.Handler
	if !cfg.RateLimit.Disabled {
		limited = append(limited, httprate.LimitByIP(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}

	// Aggregator-facing routes
	r.Group(func(r chi.Router) {
		r.Use(limited...)
		r.Get("/api/saltedge/callback", deps.SaltEdgeHandler.HandleCallback)
		r.Post("/api/saltedge/callback", deps.SaltEdgeHandler.HandleWebhook)
		r.Post("/api/saltedge/webhook", deps.SaltEdgeHandler.HandleWebhook)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(deps.JWT))

		r.Get("/api/users/me", deps.UserHandler.HandleMe)

		r.Route("/api/saltedge", func(r chi.Router) {
			r.Get("/banks", deps.SaltEdgeHandler.HandleBanks)
			r.With(limited...).Post("/auth", deps.SaltEdgeHandler.HandleConnect)

			r.Get("/data", deps.SaltEdgeHandler.HandleLiveData)
			r.Post("/data", deps.SaltEdgeHandler.HandleReopen)
			r.Delete("/data", deps.SaltEdgeHandler.HandleDisconnect)

			r.Get("/status", deps.StatusHandler.HandleStatus)
			r.Post("/status", deps.StatusHandler.HandleStatusAction)
		})

		r.Route("/api/banking", func(r chi.Router) {
			r.Get("/", deps.BankingHandler.HandleOverview)
			r.Delete("/", deps.BankingHandler.HandleDeleteUserData)
			r.Get("/transactions", deps.BankingHandler.HandleTransactions)
			r.Get("/sync-logs", deps.BankingHandler.HandleSyncLogs)
		})

		r.Post("/api/notifications/devices", deps.NotificationHandler.HandleRegisterDevice)
	})

	// Apply global middleware
	handler := middleware.Logging(r)

	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(cfg.Telemetry.ServiceName)(handler)
	}

	return handler
}
