package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ewhitley/gatehouse/internal/auth"
	"github.com/ewhitley/gatehouse/internal/models"
)

// SessionStore defines the persistence operations for sessions
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	Get(ctx context.Context, token string) (*models.Session, error)
	Touch(ctx context.Context, token string, at time.Time) error
	RotateCSRF(ctx context.Context, token, csrfToken string, issuedAt time.Time) error
	Promote(ctx context.Context, oldToken, newToken, username, role string, at time.Time) error
	Delete(ctx context.Context, token string) error
	DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionConfig holds session and CSRF lifetime policy
type SessionConfig struct {
	CSRFTimeout       time.Duration
	InactivityTimeout time.Duration
}

// SessionService owns the session and CSRF token lifecycle. Sessions are
// server-side rows keyed by an opaque cookie token; the CSRF token lives
// inside the session and never touches the ban or attempt tables.
type SessionService struct {
	repo   SessionStore
	config SessionConfig
	logger *slog.Logger
}

func NewSessionService(repo SessionStore, config SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// Start creates a fresh anonymous session with a new CSRF token.
func (s *SessionService) Start(ctx context.Context, now time.Time) (*models.Session, error) {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	csrfToken, err := auth.GenerateCSRFToken()
	if err != nil {
		return nil, err
	}

	return s.repo.Create(ctx, &models.Session{
		Token:        token,
		CSRFToken:    csrfToken,
		CSRFIssuedAt: now.UTC(),
		LastActivity: now.UTC(),
	})
}

// Resolve loads the session for a cookie token and advances its activity
// clock. A session idle past the inactivity timeout is destroyed and
// reported as not found; the caller starts a fresh one, which is a forced
// logout rather than a re-prompt.
func (s *SessionService) Resolve(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	session, err := s.repo.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	if now.Sub(session.LastActivity) > s.config.InactivityTimeout {
		s.logger.Info("session expired by inactivity",
			slog.String("username", usernameOrUnknown(session.Username)))
		if err := s.repo.Delete(ctx, session.Token); err != nil {
			return nil, err
		}
		return nil, models.ErrNotFound
	}

	if err := s.repo.Touch(ctx, session.Token, now); err != nil {
		return nil, err
	}
	session.LastActivity = now.UTC()

	return session, nil
}

// ValidateCSRF checks a submitted token against the session's stored one.
func (s *SessionService) ValidateCSRF(session *models.Session, submitted string, now time.Time) auth.CSRFResult {
	return auth.ValidateCSRFToken(session.CSRFToken, submitted, session.CSRFIssuedAt, now, s.config.CSRFTimeout)
}

// RotateCSRF replaces the session's CSRF token. Called after every
// successful state-changing authentication event, and transparently when a
// token is found expired so the session itself survives.
func (s *SessionService) RotateCSRF(ctx context.Context, session *models.Session, now time.Time) error {
	csrfToken, err := auth.GenerateCSRFToken()
	if err != nil {
		return err
	}

	if err := s.repo.RotateCSRF(ctx, session.Token, csrfToken, now); err != nil {
		return err
	}

	session.CSRFToken = csrfToken
	session.CSRFIssuedAt = now.UTC()
	return nil
}

// Promote binds an identity to the session, regenerating the session token
// against fixation and rotating the CSRF token.
func (s *SessionService) Promote(ctx context.Context, session *models.Session, username, role string, now time.Time) error {
	newToken, err := auth.GenerateSessionToken()
	if err != nil {
		return err
	}

	if err := s.repo.Promote(ctx, session.Token, newToken, username, role, now); err != nil {
		return err
	}

	session.Token = newToken
	session.Username = username
	session.Role = role
	session.LastActivity = now.UTC()

	return s.RotateCSRF(ctx, session, now)
}

// Destroy removes the session entirely. Used on logout and on CSRF
// tampering.
func (s *SessionService) Destroy(ctx context.Context, token string) error {
	err := s.repo.Delete(ctx, token)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return nil
}

// CleanupInactive removes sessions idle past the inactivity timeout.
func (s *SessionService) CleanupInactive(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteInactive(ctx, now.Add(-s.config.InactivityTimeout))
}

func usernameOrUnknown(username string) string {
	if username == "" {
		return models.UnknownUsername
	}
	return username
}
