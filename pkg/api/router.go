// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orderflow/orderflow/config"
	"github.com/orderflow/orderflow/pkg/api/handlers"
	"github.com/orderflow/orderflow/pkg/api/middleware"
	"github.com/orderflow/orderflow/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Order handles order submission, reads, and retries
	Order *handlers.OrderHandler

	// Stream handles the per-order SSE status stream
	Stream *handlers.StreamHandler

	// WebSocket handles the per-order websocket status feed
	WebSocket *handlers.WebSocketHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// MetricsHandler is the optional metrics exposition endpoint
	MetricsHandler http.Handler
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))

	// Register routes
	RegisterRoutes(r, cfg, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, cfg *config.Config, handlers *Handlers) {
	rateLimit := middleware.RateLimit(&cfg.Server.RateLimit)
	timeout := middleware.Timeout(cfg.Server.HTTP.ReadTimeout)

	if handlers.Order != nil {
		r.Route("/orders", func(r chi.Router) {
			r.With(rateLimit, timeout).Post("/", handlers.Order.CreateOrder)
			r.With(timeout).Get("/{id}", handlers.Order.GetOrder)
			r.With(timeout).Get("/{id}/status", handlers.Order.GetStatus)
			r.With(timeout).Get("/{id}/history", handlers.Order.GetHistory)
			// The retry runs its saga synchronously and the stream endpoints
			// hold the connection open, so none of them get the read timeout.
			r.With(rateLimit).Post("/{id}/retry", handlers.Order.Retry)

			if handlers.Stream != nil {
				r.Get("/{id}/stream", handlers.Stream.Stream)
			}
			if handlers.WebSocket != nil {
				r.Get("/{id}/ws", handlers.WebSocket.ServeHTTP)
			}
		})
	}

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/healthz", handlers.Health.Health)
		r.Get("/readyz", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}

	if handlers.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", handlers.MetricsHandler)
	}
}
