package repositories

import (
	"context"
	"time"

	"github.com/ewhitley/gatehouse/internal/database"
	"github.com/ewhitley/gatehouse/internal/models"
)

// BanRepository handles the banned_ips table. One row per IP; repeat
// offenses escalate in place rather than stacking rows.
type BanRepository struct {
	db *database.DB
}

func NewBanRepository(db *database.DB) *BanRepository {
	return &BanRepository{db: db}
}

// Get returns the ban row for the IP, or ErrNotFound.
func (r *BanRepository) Get(ctx context.Context, ipAddress string) (*models.BannedIP, error) {
	query := `
		SELECT ip_address, ban_start, ban_duration_seconds
		FROM banned_ips WHERE ip_address = $1
	`

	var ban models.BannedIP
	var durationSeconds int64
	err := r.db.Pool.QueryRow(ctx, query, ipAddress).Scan(&ban.IPAddress, &ban.BanStart, &durationSeconds)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	ban.BanDuration = time.Duration(durationSeconds) * time.Second

	return &ban, nil
}

// Escalate inserts a fresh ban at the base duration, or after the previous
// sentence has run out restarts the clock and doubles the previous duration
// up to the cap. A ban still in force is left untouched, so a ban escalates
// at most once per episode no matter how many failures land while it runs.
// The whole decision happens in one statement so concurrent offenders
// cannot race past each other.
func (r *BanRepository) Escalate(ctx context.Context, ipAddress string, now time.Time, base, max time.Duration) error {
	query := `
		INSERT INTO banned_ips (ip_address, ban_start, ban_duration_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (ip_address)
		DO UPDATE SET
			ban_start = $2,
			ban_duration_seconds = LEAST(banned_ips.ban_duration_seconds * 2, $4)
		WHERE banned_ips.ban_start + banned_ips.ban_duration_seconds * interval '1 second' <= $2
	`

	_, err := r.db.Pool.Exec(ctx, query,
		ipAddress, now.UTC(), int64(base.Seconds()), int64(max.Seconds()),
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// ApplyFixed restarts the ban clock at a fixed duration, keeping a longer
// existing sentence if one is already in force. Used for policy bans that
// do not escalate, such as restricted-username probes.
func (r *BanRepository) ApplyFixed(ctx context.Context, ipAddress string, now time.Time, duration time.Duration) error {
	query := `
		INSERT INTO banned_ips (ip_address, ban_start, ban_duration_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (ip_address)
		DO UPDATE SET
			ban_start = $2,
			ban_duration_seconds = GREATEST(banned_ips.ban_duration_seconds, $3)
	`

	_, err := r.db.Pool.Exec(ctx, query, ipAddress, now.UTC(), int64(duration.Seconds()))
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// DeleteDecayed removes bans whose sentence plus the grace period has
// fully elapsed. The grace period preserves the escalation history long
// enough for a repeat offender to still hit the doubled duration.
func (r *BanRepository) DeleteDecayed(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	query := `
		DELETE FROM banned_ips
		WHERE ban_start + (ban_duration_seconds + $2) * interval '1 second' <= $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, now.UTC(), int64(grace.Seconds()))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
