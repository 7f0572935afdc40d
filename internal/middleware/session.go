package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ewhitley/gatehouse/internal/auth"
	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/ewhitley/gatehouse/internal/services"
	pkghttp "github.com/ewhitley/gatehouse/pkg/http"
)

// SessionLoader resolves the session cookie into a session on the request
// context. A missing, unknown, or inactivity-expired session leaves the
// context without one and clears the stale cookie; handlers that need a
// session reject from there.
func SessionLoader(sessions *services.SessionService, cookies auth.CookieConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.GetSessionCookie(r)
			if err != nil || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessions.Resolve(r.Context(), token, time.Now())
			if err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					logger.Error("failed to resolve session", slog.Any("error", err))
					pkghttp.WriteInternalError(w, "Internal server error")
					return
				}
				auth.ClearSessionCookie(w, cookies)
				next.ServeHTTP(w, r)
				return
			}

			ctx := auth.ContextWithSession(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests that did not present a valid session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.SessionFromContext(r.Context()) == nil {
			pkghttp.WriteForbidden(w, "Session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose session is not an authenticated admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := auth.SessionFromContext(r.Context())
		if !session.Authenticated() {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		if session.Role != models.RoleAdmin {
			pkghttp.WriteForbidden(w, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
