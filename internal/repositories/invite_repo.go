package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ewhitley/gatehouse/internal/database"
	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type InviteRepository struct {
	db *database.DB
}

func NewInviteRepository(db *database.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

func scanInviteRow(scanner rowScanner) (*models.InvitationCode, error) {
	var invite models.InvitationCode
	err := scanner.Scan(
		&invite.ID, &invite.Code, &invite.ExpirationDate,
		&invite.UsageCount, &invite.MaxUses, &invite.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &invite, nil
}

// Create inserts a new code. Returns ErrConflict if the code already
// exists, which the service treats as a retryable collision.
func (r *InviteRepository) Create(ctx context.Context, invite *models.InvitationCode) (*models.InvitationCode, error) {
	invite.ID = uuid.New().String()
	invite.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO invitation_codes (id, code, expiration_date, usage_count, max_uses, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, code, expiration_date, usage_count, max_uses, created_at
	`

	return scanInviteRow(r.db.Pool.QueryRow(ctx, query,
		invite.ID, invite.Code, invite.ExpirationDate,
		invite.UsageCount, invite.MaxUses, invite.CreatedAt,
	))
}

// GetByCode looks a code up case-insensitively.
func (r *InviteRepository) GetByCode(ctx context.Context, code string) (*models.InvitationCode, error) {
	query := `
		SELECT id, code, expiration_date, usage_count, max_uses, created_at
		FROM invitation_codes WHERE code = lower($1)
	`

	return scanInviteRow(r.db.Pool.QueryRow(ctx, query, code))
}

// ConsumeTx increments the usage count iff the code is still usable, as a
// single guarded update inside the registration transaction. A zero
// rows-affected result means the code was missing, expired, or exhausted;
// the caller re-reads to distinguish.
func (r *InviteRepository) ConsumeTx(ctx context.Context, tx pgx.Tx, code string, now time.Time) (bool, error) {
	query := `
		UPDATE invitation_codes
		SET usage_count = usage_count + 1
		WHERE code = lower($1)
		  AND usage_count < max_uses
		  AND expiration_date > $2
	`

	tag, err := tx.Exec(ctx, query, code, now.UTC())
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireNow force-expires a code. Idempotent: a code that is already
// expired stays expired (LEAST never moves the date forward), and only an
// unknown code reports ErrNotFound.
func (r *InviteRepository) ExpireNow(ctx context.Context, code string, now time.Time) error {
	query := `
		UPDATE invitation_codes SET expiration_date = LEAST(expiration_date, $2)
		WHERE code = lower($1)
	`

	tag, err := r.db.Pool.Exec(ctx, query, code, now.UTC())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns codes newest first.
func (r *InviteRepository) List(ctx context.Context, limit, offset int) ([]*models.InvitationCode, error) {
	query := `
		SELECT id, code, expiration_date, usage_count, max_uses, created_at
		FROM invitation_codes ORDER BY expiration_date DESC LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitation codes: %w", err)
	}
	defer rows.Close()

	invites := make([]*models.InvitationCode, 0)
	for rows.Next() {
		invite, err := scanInviteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation code: %w", err)
		}
		invites = append(invites, invite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return invites, nil
}
