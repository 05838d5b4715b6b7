// Package api wires the HTTP surface: middleware chain, REST routes
// and the WebSocket endpoint.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/api/middleware"
	"github.com/apexkv/facebook-clone/internal/handlers"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, authmw *middleware.AuthMiddleware, limiter *middleware.RateLimiter, ws http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	r.Use(limiter.Middleware)

	// CORS - the token, not the origin, is what authenticates callers.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/health", h.Health)

	// WebSocket endpoint; authenticates itself via the token query
	// param, outside the bearer middleware.
	r.Handle("/api/chat/ws/chat/", ws)

	// Authenticated REST surface
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth)

		r.Get("/api/chat/users/", h.ListRooms)
		r.Get("/api/chat/users/{roomID}/user/", h.GetRoom)
		r.Get("/api/chat/messages/{roomID}/", h.ListMessages)
		r.Post("/api/chat/messages/{roomID}/", h.PostMessage)
		r.Post("/api/chat/messages/{roomID}/read/", h.MarkRead)
	})

	return r
}
