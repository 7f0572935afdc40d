package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ewhitley/gatehouse/internal/models"
)

// inviteGenerationAttempts bounds the retry loop on code collisions. The
// code space is small (17,576 combinations) so collisions are expected at
// scale, but ten misses in a row means the space is effectively full.
const inviteGenerationAttempts = 10

// InviteStore defines the persistence operations for invitation codes
type InviteStore interface {
	Create(ctx context.Context, invite *models.InvitationCode) (*models.InvitationCode, error)
	GetByCode(ctx context.Context, code string) (*models.InvitationCode, error)
	ExpireNow(ctx context.Context, code string, now time.Time) error
	List(ctx context.Context, limit, offset int) ([]*models.InvitationCode, error)
}

// InviteConfig holds defaults for newly generated codes
type InviteConfig struct {
	DefaultExpiration time.Duration
	DefaultMaxUses    int
}

// InviteService manages the invitation codes that gate registration.
type InviteService struct {
	repo   InviteStore
	config InviteConfig
	logger *slog.Logger
}

func NewInviteService(repo InviteStore, config InviteConfig, logger *slog.Logger) *InviteService {
	return &InviteService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// randomCode produces a three-letter three-digit code, lowercase.
func randomCode() (string, error) {
	randomBytes := make([]byte, 6)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}

	code := make([]byte, 6)
	for i := 0; i < 3; i++ {
		code[i] = 'a' + randomBytes[i]%26
	}
	for i := 3; i < 6; i++ {
		code[i] = '0' + randomBytes[i]%10
	}
	return string(code), nil
}

// GenerateOptions override the configured defaults for one code. Zero
// values fall back to the defaults.
type GenerateOptions struct {
	Expiration time.Duration
	MaxUses    int
}

// Generate creates a new code, retrying a bounded number of times on
// collision and failing loudly after that.
func (s *InviteService) Generate(ctx context.Context, now time.Time, opts GenerateOptions) (*models.InvitationCode, error) {
	expiration := opts.Expiration
	if expiration <= 0 {
		expiration = s.config.DefaultExpiration
	}
	maxUses := opts.MaxUses
	if maxUses <= 0 {
		maxUses = s.config.DefaultMaxUses
	}

	for attempt := 0; attempt < inviteGenerationAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return nil, err
		}

		invite, err := s.repo.Create(ctx, &models.InvitationCode{
			Code:           code,
			ExpirationDate: now.Add(expiration),
			MaxUses:        maxUses,
		})
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				continue
			}
			return nil, err
		}

		s.logger.Info("invite code generated",
			slog.String("code", invite.Code),
			slog.Time("expiration_date", invite.ExpirationDate),
			slog.Int("max_uses", invite.MaxUses))
		return invite, nil
	}

	return nil, fmt.Errorf("failed to generate a unique invite code after %d attempts", inviteGenerationAttempts)
}

// Validate classifies a submitted code. Returns the code row alongside the
// status so callers can log specifics without a second lookup.
func (s *InviteService) Validate(ctx context.Context, code string, now time.Time) (models.InviteStatus, *models.InvitationCode, error) {
	invite, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.InviteNotFound, nil, nil
		}
		return models.InviteNotFound, nil, err
	}

	return invite.Status(now), invite, nil
}

// ExpireNow soft-revokes a code immediately, preserving its usage history.
func (s *InviteService) ExpireNow(ctx context.Context, code string, now time.Time) error {
	if err := s.repo.ExpireNow(ctx, code, now); err != nil {
		return err
	}

	s.logger.Info("invite code expired", slog.String("code", code))
	return nil
}

// List returns codes newest first, with the limit clamped to a sane page.
func (s *InviteService) List(ctx context.Context, limit, offset int) ([]*models.InvitationCode, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}
