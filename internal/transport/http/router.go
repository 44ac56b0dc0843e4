package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/snaphub-notify/internal/config"
	"github.com/snaphub-notify/internal/domain"
	"github.com/snaphub-notify/internal/pkg/logger"
	"github.com/snaphub-notify/internal/transport/http/handler"
	appmiddleware "github.com/snaphub-notify/internal/transport/http/middleware"
)

// NewRouter builds and returns the application router. ctx bounds background
// work such as the rate limiter's sweeper.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	log := logger.OrNop(deps.Logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		log.Warn("JWT provider missing, authenticated routes will reject every request")
		authMw = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"authentication unavailable"}`, http.StatusServiceUnavailable)
			})
		}
	}

	// Feed routes are polled; every pass fans out to the backend API.
	feedRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)

	healthH := handler.NewHealthHandler(deps.Ready)
	notifH := handler.NewNotificationHandler(deps.Notifications, log)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Group(func(r chi.Router) {
				r.Use(feedRL.Limit)
				r.Get("/notifications", notifH.List)
				r.Get("/notifications/current", notifH.Current)
				r.Put("/notifications/read-all", notifH.MarkAllAsRead)
				r.Put("/notifications/{id}", notifH.MarkAsRead)
				r.Delete("/notifications/session", notifH.EndSession)
				r.Delete("/notifications/{id}", notifH.Delete)
			})

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))
				r.Delete("/admin/read-states/{userID}", notifH.ResetReadState)
			})
		})
	})

	return r
}
