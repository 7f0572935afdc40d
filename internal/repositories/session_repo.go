package repositories

import (
	"context"
	"time"

	"github.com/ewhitley/gatehouse/internal/database"
	"github.com/ewhitley/gatehouse/internal/models"
)

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var session models.Session
	var username, role *string
	err := scanner.Scan(
		&session.Token, &username, &role,
		&session.CSRFToken, &session.CSRFIssuedAt,
		&session.LastActivity, &session.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if username != nil {
		session.Username = *username
	}
	if role != nil {
		session.Role = *role
	}
	return &session, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (token, username, role, csrf_token, csrf_issued_at, last_activity)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)
		RETURNING token, username, role, csrf_token, csrf_issued_at, last_activity, created_at
	`

	return scanSessionRow(r.db.Pool.QueryRow(ctx, query,
		session.Token, session.Username, session.Role,
		session.CSRFToken, session.CSRFIssuedAt, session.LastActivity,
	))
}

func (r *SessionRepository) Get(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT token, username, role, csrf_token, csrf_issued_at, last_activity, created_at
		FROM sessions WHERE token = $1
	`

	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, token))
}

// Touch advances the inactivity clock.
func (r *SessionRepository) Touch(ctx context.Context, token string, at time.Time) error {
	query := `UPDATE sessions SET last_activity = $2 WHERE token = $1`

	tag, err := r.db.Pool.Exec(ctx, query, token, at.UTC())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RotateCSRF replaces the session's CSRF token and restarts its lifetime.
func (r *SessionRepository) RotateCSRF(ctx context.Context, token, csrfToken string, issuedAt time.Time) error {
	query := `UPDATE sessions SET csrf_token = $2, csrf_issued_at = $3 WHERE token = $1`

	tag, err := r.db.Pool.Exec(ctx, query, token, csrfToken, issuedAt.UTC())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Promote attaches an identity to the session and regenerates its token in
// the same statement, closing the fixation window on login.
func (r *SessionRepository) Promote(ctx context.Context, oldToken, newToken, username, role string, at time.Time) error {
	query := `
		UPDATE sessions
		SET token = $2, username = $3, role = $4, last_activity = $5
		WHERE token = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, oldToken, newToken, username, role, at.UTC())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	query := `DELETE FROM sessions WHERE token = $1`

	_, err := r.db.Pool.Exec(ctx, query, token)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// DeleteInactive removes sessions idle past the inactivity cutoff.
func (r *SessionRepository) DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE last_activity < $1`

	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
