package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callguard/internal/api/handlers"
	apimiddleware "callguard/internal/api/middleware"
	"callguard/internal/config"
	"callguard/internal/streaming"
	"callguard/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	hub      *streaming.WebSocketHub
	logger   *logger.Logger
}

// NewRouter creates a new Router instance
func NewRouter(cfg config.Config, h *handlers.Handlers, hub *streaming.WebSocketHub, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		hub:      hub,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	// Rate limiting
	if r.config.RateLimit.Enabled {
		router.Use(apimiddleware.RateLimiter(r.config.RateLimit))
	}

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)
		pub.Handle("/metrics", promhttp.Handler())
	})

	// API v1 routes
	router.Route("/api/v1", func(api chi.Router) {
		api.Get("/stats", r.handlers.Stats.Get)

		// Session queries
		api.Route("/sessions", func(sessions chi.Router) {
			sessions.Get("/active", r.handlers.Sessions.ListActive)
			sessions.Get("/history", r.handlers.Sessions.History)
			sessions.Get("/{callID}", r.handlers.Sessions.Get)
		})

		// Telephony webhooks drive the pipeline
		api.Route("/telephony", func(tel chi.Router) {
			tel.Post("/call-status", r.handlers.Telephony.CallStatus)
			tel.Post("/transcript", r.handlers.Telephony.Transcript)
			tel.Post("/recording", r.handlers.Telephony.Recording)
		})

		// Live verdict stream for dashboards
		if r.hub != nil {
			api.Get("/stream", r.hub.ServeWebSocket)
		}
	})

	return router
}
