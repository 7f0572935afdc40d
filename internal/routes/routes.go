package routes

import (
	"github.com/ewhitley/gatehouse/internal/handlers"
	"github.com/ewhitley/gatehouse/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	inviteHandler *handlers.InviteHandler,
	auditHandler *handlers.AuditHandler,
) {
	// Outer per-IP shield on the auth endpoints. The ledger-backed limiter
	// inside the auth service does the real policy work; this only sheds
	// floods before they reach the database.
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - session bootstrap and credential submission
	router.Get("/auth/csrf", authHandler.GetCSRF)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/register", authHandler.Register)
	router.Post("/auth/logout", authHandler.Logout)

	// Protected routes - a resolved session required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession)

		r.Get("/auth/session", authHandler.Session)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Post("/admin/invites", inviteHandler.Create)
			r.Get("/admin/invites", inviteHandler.List)
			r.Post("/admin/invites/{code}/expire", inviteHandler.Expire)
			r.Get("/admin/logs", auditHandler.List)
		})
	})
}
