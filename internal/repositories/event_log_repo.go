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

// EventLogRepository handles the append-only security event log. Nothing
// in the request path updates or deletes rows; only retention cleanup does.
type EventLogRepository struct {
	db *database.DB
}

func NewEventLogRepository(db *database.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

func scanEventLogRow(row rowScanner) (*models.EventLogEntry, error) {
	var entry models.EventLogEntry
	err := row.Scan(
		&entry.ID, &entry.EventType, &entry.Username,
		&entry.IPAddress, &entry.Details, &entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &entry, nil
}

func scanEventLogRows(rows pgx.Rows) ([]*models.EventLogEntry, error) {
	defer rows.Close()

	entries := make([]*models.EventLogEntry, 0)
	for rows.Next() {
		entry, err := scanEventLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event log rows: %w", err)
	}

	return entries, nil
}

// Create appends one entry. Empty usernames are stored as the explicit
// unknown marker rather than NULL.
func (r *EventLogRepository) Create(ctx context.Context, entry *models.EventLogEntry) (*models.EventLogEntry, error) {
	if entry.Username == "" {
		entry.Username = models.UnknownUsername
	}

	query := `
		INSERT INTO logs (id, event_type, username, ip_address, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, event_type, username, ip_address, details, created_at
	`

	result, err := scanEventLogRow(r.db.Pool.QueryRow(ctx, query,
		uuid.New().String(), entry.EventType, entry.Username,
		entry.IPAddress, entry.Details,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create event log entry: %w", err)
	}

	return result, nil
}

// ListRecent returns entries newest first.
func (r *EventLogRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.EventLogEntry, error) {
	query := `
		SELECT id, event_type, username, ip_address, details, created_at
		FROM logs ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}

	return scanEventLogRows(rows)
}

// GetByEventType returns entries of one type, newest first.
func (r *EventLogRepository) GetByEventType(ctx context.Context, eventType string, limit, offset int) ([]*models.EventLogEntry, error) {
	query := `
		SELECT id, event_type, username, ip_address, details, created_at
		FROM logs WHERE event_type = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}

	return scanEventLogRows(rows)
}

// GetByIPAddress returns entries recorded against one IP, newest first.
func (r *EventLogRepository) GetByIPAddress(ctx context.Context, ipAddress string, limit, offset int) ([]*models.EventLogEntry, error) {
	query := `
		SELECT id, event_type, username, ip_address, details, created_at
		FROM logs WHERE ip_address = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, ipAddress, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}

	return scanEventLogRows(rows)
}

// Cleanup removes entries older than the retention cutoff.
func (r *EventLogRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM logs WHERE created_at < $1`

	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup event log: %w", err)
	}

	return tag.RowsAffected(), nil
}
