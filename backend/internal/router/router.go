package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefront-dev/storefront/backend/internal/setup"
	mw "github.com/storefront-dev/storefront/shared/middleware"
)

// New creates the chi router with all routes.
// Rate limiters attached with Use count requests of the whole group together.
func New(deps *setup.Dependencies) http.Handler {
	cfg := deps.Config.Public
	h := deps.Handler
	authMw := deps.AuthMiddleware
	logger := deps.Logger

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.SecurityHeaders(cfg.SecureCookies))
	r.Use(deps.Metrics.Middleware)
	// Blocked addresses get 403 on every route, probes included.
	r.Use(mw.BlockGate(deps.Storage, logger))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Endpoints that send email
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(deps.Limiters.Mail, mw.GetIP, logger))
		r.Post("/register", h.Register)
		r.Post("/resend-confirmation", h.ResendConfirmation)
		r.Post("/reset-password", h.RequestPasswordReset)
	})

	// Endpoints that check or change a password
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(deps.Limiters.Credentials, mw.GetIP, logger))
		r.Post("/login", h.Login)
		r.Post("/reset-password/token", h.CompletePasswordReset)
	})

	r.Get("/confirm-email", h.ConfirmEmail)
	r.Get("/reset-password/token", h.ResetTokenInfo)
	r.Get("/logout", h.Logout)

	r.With(authMw.NeedAuth()).Get("/auth", h.Me)

	r.Route("/staff", func(r chi.Router) {
		r.Use(authMw.StaffOnly())
		r.Get("/ping", h.StaffPing)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(authMw.AdminOnly())
		r.Get("/users/{userId}/sessions", h.UserSessions)
		r.Post("/users/{userId}/sessions/revoke", h.RevokeUserSessions)
		r.Patch("/users/{userId}/role", h.SetRole)
		r.Delete("/sessions/{jti}", h.RevokeSession)
		r.Post("/sessions/gc", h.CollectSessions)
		r.Get("/ips", h.IPLogs)
		r.Post("/ips/{ip}/block", h.BlockIP)
		r.Delete("/ips/{ip}/block", h.UnblockIP)
		r.Post("/ips/{ip}/reset", h.ResetIP)
	})

	return r
}
