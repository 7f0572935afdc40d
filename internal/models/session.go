package models

import "time"

// Session is the server-side state for one browser session, keyed by an
// opaque token delivered in a cookie. CSRF state lives here, never in the
// attempt/ban tables.
type Session struct {
	Token        string
	Username     string // empty until authenticated
	Role         string
	CSRFToken    string
	CSRFIssuedAt time.Time
	LastActivity time.Time
	CreatedAt    time.Time
}

// Authenticated reports whether the session carries an identity.
func (s *Session) Authenticated() bool {
	return s != nil && s.Username != ""
}
