package auth

import (
	"context"

	"github.com/ewhitley/gatehouse/internal/models"
)

type contextKey string

const sessionContextKey contextKey = "session"

// ContextWithSession stores the resolved session on the request context.
func ContextWithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext returns the session placed by the session middleware,
// or nil if the request carried no valid session.
func SessionFromContext(ctx context.Context) *models.Session {
	session, _ := ctx.Value(sessionContextKey).(*models.Session)
	return session
}
