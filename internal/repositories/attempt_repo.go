package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ewhitley/gatehouse/internal/database"
	"github.com/ewhitley/gatehouse/internal/models"
)

// AttemptRepository handles the failed-attempt ledgers. Both scopes share
// the same shape: per-second buckets keyed by (identity, attempt_time).
type AttemptRepository struct {
	db *database.DB
}

func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func attemptTable(scope models.AttemptScope) (table, keyCol string) {
	if scope == models.ScopeUsername {
		return "username_login_attempts", "username"
	}
	return "login_attempts", "ip_address"
}

// Record adds one failure for the identity. The timestamp is truncated to
// the second so concurrent failures collapse into a single bucket whose
// count is incremented atomically.
func (r *AttemptRepository) Record(ctx context.Context, scope models.AttemptScope, identity string, at time.Time) error {
	table, keyCol := attemptTable(scope)
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, attempt_time, attempt_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (%s, attempt_time)
		DO UPDATE SET attempt_count = %s.attempt_count + 1
	`, table, keyCol, keyCol, table)

	_, err := r.db.Pool.Exec(ctx, query, identity, at.UTC().Truncate(time.Second))
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// CountSince sums the attempt counts for the identity within the window.
func (r *AttemptRepository) CountSince(ctx context.Context, scope models.AttemptScope, identity string, since time.Time) (int, error) {
	table, keyCol := attemptTable(scope)
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(attempt_count), 0) FROM %s
		WHERE %s = $1 AND attempt_time > $2
	`, table, keyCol)

	var count int
	err := r.db.Pool.QueryRow(ctx, query, identity, since).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// Clear removes all ledger rows for the identity. Called on successful
// authentication so stale failures never penalize a recovered account.
func (r *AttemptRepository) Clear(ctx context.Context, scope models.AttemptScope, identity string) error {
	table, keyCol := attemptTable(scope)
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, keyCol)

	_, err := r.db.Pool.Exec(ctx, query, identity)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// DeleteOlderThan drops buckets that have aged out of every possible
// window. Returns the number of rows removed across both scopes.
func (r *AttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, scope := range []models.AttemptScope{models.ScopeIP, models.ScopeUsername} {
		table, _ := attemptTable(scope)
		query := fmt.Sprintf(`DELETE FROM %s WHERE attempt_time < $1`, table)

		tag, err := r.db.Pool.Exec(ctx, query, cutoff)
		if err != nil {
			return total, database.MapPostgresError(err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
