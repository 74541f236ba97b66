/**
 * @description
 * HTTP router setup for the prize service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the auth settings for the router.
type RouterConfig struct {
	InternalAPIKey string
	JWKS           *JWKSCache
	ClerkIssuer    string
}

// NewRouter creates a new Chi router and registers prize routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Prize service is healthy"))
	})

	r.Get("/retry-prize-distributions", h.handleRetryPrizeDistributions)
	r.Post("/retry-prize-distributions", h.handleRetryPrizeDistributions)
	r.Options("/retry-prize-distributions", h.handleRetryPreflight)

	r.Get("/confirm-prize-distribution", h.handleConfirmDistribution)

	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(cfg.JWKS, cfg.ClerkIssuer))
		r.Post("/send-host-confirmation-email", h.handleSendHostConfirmation)
	})

	r.Route("/internal/prizes", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/retry-pass", h.handleRetryPrizeDistributions)
		r.Post("/host-confirmations", h.handleSendHostConfirmationInternal)
		r.Get("/retry-runs", h.handleListRetryRuns)
	})

	return r
}
