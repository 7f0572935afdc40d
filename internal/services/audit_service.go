package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ewhitley/gatehouse/internal/models"
)

// EventLogStore defines the persistence operations for the security event log
type EventLogStore interface {
	Create(ctx context.Context, entry *models.EventLogEntry) (*models.EventLogEntry, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*models.EventLogEntry, error)
	GetByEventType(ctx context.Context, eventType string, limit, offset int) ([]*models.EventLogEntry, error)
	GetByIPAddress(ctx context.Context, ipAddress string, limit, offset int) ([]*models.EventLogEntry, error)
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditService records security events with a dual-write pattern: immediate
// structured log output plus a database row for the queryable trail. Every
// security-relevant decision point writes exactly one entry.
type AuditService struct {
	repo   EventLogStore
	logger *slog.Logger
}

func NewAuditService(repo EventLogStore, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// Record writes one event. An empty username is stored under the explicit
// unknown marker. A failed database write is logged but never fails the
// request that triggered the event.
func (s *AuditService) Record(ctx context.Context, eventType, username, ipAddress, details string) {
	if username == "" {
		username = models.UnknownUsername
	}

	s.logger.InfoContext(ctx, "security event",
		slog.String("event_type", eventType),
		slog.String("username", username),
		slog.String("ip_address", ipAddress),
		slog.String("details", details),
	)

	_, err := s.repo.Create(ctx, &models.EventLogEntry{
		EventType: eventType,
		Username:  username,
		IPAddress: ipAddress,
		Details:   details,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
	}
}

// ListRecent returns the newest entries for operator review.
func (s *AuditService) ListRecent(ctx context.Context, limit, offset int) ([]*models.EventLogEntry, error) {
	limit, offset = clampPage(limit, offset)

	entries, err := s.repo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return entries, nil
}

// ListByEventType filters the trail to one event type.
func (s *AuditService) ListByEventType(ctx context.Context, eventType string, limit, offset int) ([]*models.EventLogEntry, error) {
	limit, offset = clampPage(limit, offset)

	entries, err := s.repo.GetByEventType(ctx, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return entries, nil
}

// ListByIPAddress filters the trail to one IP.
func (s *AuditService) ListByIPAddress(ctx context.Context, ipAddress string, limit, offset int) ([]*models.EventLogEntry, error) {
	limit, offset = clampPage(limit, offset)

	entries, err := s.repo.GetByIPAddress(ctx, ipAddress, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return entries, nil
}

// Cleanup removes entries past the retention cutoff.
func (s *AuditService) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.Cleanup(ctx, cutoff)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
