package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api/middleware"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/handlers"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/messaging"
)

// Deps are the collaborators the router wires into handlers and middleware.
type Deps struct {
	Service *messaging.Service
	Nonces  middleware.NonceStore
	// Redis is optional. Without it rate limiting is off and health skips
	// the Redis check.
	Redis *redis.Client
	Ping  handlers.Pinger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, deps Deps) *chi.Mux {
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

	limiter := middleware.NewRateLimiter(deps.Redis, logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			middleware.HeaderUser, middleware.HeaderNonce, middleware.HeaderTimestamp,
			middleware.HeaderSignature, middleware.HeaderAdminToken,
		},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Service, deps.Ping, logger)
	auth := middleware.NewAuthMiddleware(deps.Service.Store(), deps.Nonces, logger)

	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/register", h.Register)
	r.Get("/who/{id}", h.Who)

	// Authenticated routes (require signature)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.StartConversation)
		r.Get("/conversations/{id}/messages", h.GetMessages)
		r.Post("/conversations/{id}/messages", h.PostMessage)
		r.Get("/messages/{id}/reactions", h.GetReactions)
		r.Post("/messages/{id}/reactions", h.ToggleReaction)
		r.Get("/stream", h.Stream)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(cfg.AdminTokenHash))

		r.Get("/admin/conversations", h.AdminConversations)
	})

	return r
}
