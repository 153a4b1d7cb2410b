package api

import (
	"net/http"

	"github.com/arachnid-agents/mission-control/internal/api/handlers"
	"github.com/arachnid-agents/mission-control/internal/api/middleware"
	"github.com/arachnid-agents/mission-control/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	origins := cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5, "application/json", "image/svg+xml"))
	r.Use(middleware.AgentTokenExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", handlers.FeedbackTokenHeader, middleware.AdminTokenHeader},
		ExposedHeaders: []string{"Content-Disposition", "X-Badge-Id", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.VersionInfo)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/feedback", h.Feedback)

		r.Post("/intro-accept", h.IntroAccept)
		r.Post("/intro-viewed", h.IntroViewed)
		r.Post("/intro-reset", h.IntroReset)

		r.Get("/missions/rules", h.MissionRules)
		r.Get("/badge", h.Badge)

		r.Post("/legacy/feedback", h.LegacyFeedback)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminAuth(cfg.Admin.Token).Middleware)
			r.Get("/agents", h.ListAgents)
		})
	})

	return r
}
