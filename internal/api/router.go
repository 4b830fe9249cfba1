package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gdpr-guardian/internal/middleware"
)

// RouterConfig holds what the router needs besides the handler.
type RouterConfig struct {
	Validator      middleware.TokenValidator
	APIKeys        middleware.APIKeys
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the server router: public /healthz plus authenticated,
// rate-limited /v1 routes. ctx bounds background work of the middleware.
func NewRouter(ctx context.Context, h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Bundle-Checksum"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticator(cfg.Validator, cfg.APIKeys, cfg.Logger))
		r.Use(middleware.RateLimiter(ctx, cfg.RateLimit))
		h.Routes(r)
	})
	return r
}
