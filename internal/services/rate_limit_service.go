package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ewhitley/gatehouse/internal/models"
)

// AttemptStore defines the ledger operations for failed attempts
type AttemptStore interface {
	Record(ctx context.Context, scope models.AttemptScope, identity string, at time.Time) error
	CountSince(ctx context.Context, scope models.AttemptScope, identity string, since time.Time) (int, error)
	Clear(ctx context.Context, scope models.AttemptScope, identity string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BanStore defines the persistence operations for IP bans
type BanStore interface {
	Get(ctx context.Context, ipAddress string) (*models.BannedIP, error)
	Escalate(ctx context.Context, ipAddress string, now time.Time, base, max time.Duration) error
	ApplyFixed(ctx context.Context, ipAddress string, now time.Time, duration time.Duration) error
	DeleteDecayed(ctx context.Context, now time.Time, grace time.Duration) (int64, error)
}

// RateLimitConfig holds the thresholds for attempt throttling and bans
type RateLimitConfig struct {
	MaxAttempts     int
	LockoutWindow   time.Duration
	BaseBanDuration time.Duration
	MaxBanDuration  time.Duration
	BanGracePeriod  time.Duration
}

// RateLimitService derives rate-limit and ban decisions from the attempt
// ledger. IPs escalate into persistent bans; usernames only ever hit a flat
// rolling-window lockout. The asymmetry is deliberate: distributed attacks
// on one account and single-IP brute force need different answers.
type RateLimitService struct {
	attempts AttemptStore
	bans     BanStore
	config   RateLimitConfig
	logger   *slog.Logger
}

func NewRateLimitService(attempts AttemptStore, bans BanStore, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		attempts: attempts,
		bans:     bans,
		config:   config,
		logger:   logger,
	}
}

// IsBanned reports whether the IP has an active ban. A decayed row that
// cleanup has not yet collected does not count.
func (s *RateLimitService) IsBanned(ctx context.Context, ipAddress string, now time.Time) (bool, error) {
	ban, err := s.bans.Get(ctx, ipAddress)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return ban.Active(now), nil
}

// CheckIP is the pre-attempt gate for an IP. Banned IPs are rejected before
// any ledger read so a banned client cannot grow the ledger. An Exceeded
// result rejects the request but writes nothing; only a recorded failure
// that crosses the threshold extends a ban.
func (s *RateLimitService) CheckIP(ctx context.Context, ipAddress string, now time.Time) (models.RateLimitResult, error) {
	banned, err := s.IsBanned(ctx, ipAddress, now)
	if err != nil {
		return models.RateLimitOK, err
	}
	if banned {
		return models.RateLimitBanned, nil
	}

	count, err := s.attempts.CountSince(ctx, models.ScopeIP, ipAddress, now.Add(-s.config.LockoutWindow))
	if err != nil {
		return models.RateLimitOK, err
	}
	if count >= s.config.MaxAttempts {
		s.logger.Warn("ip rate limited",
			slog.String("ip_address", ipAddress),
			slog.Int("failed_attempts", count))
		return models.RateLimitExceeded, nil
	}

	return models.RateLimitOK, nil
}

// CheckUsername is the pre-attempt gate for an account. Flat threshold, no
// ban row; the lockout ends on its own as failures age out of the window.
func (s *RateLimitService) CheckUsername(ctx context.Context, username string, now time.Time) (models.RateLimitResult, error) {
	count, err := s.attempts.CountSince(ctx, models.ScopeUsername, username, now.Add(-s.config.LockoutWindow))
	if err != nil {
		return models.RateLimitOK, err
	}
	if count >= s.config.MaxAttempts {
		s.logger.Warn("username rate limited",
			slog.String("username", username),
			slog.Int("failed_attempts", count))
		return models.RateLimitExceeded, nil
	}

	return models.RateLimitOK, nil
}

// RecordFailure appends one failure to the identity's ledger.
func (s *RateLimitService) RecordFailure(ctx context.Context, scope models.AttemptScope, identity string, now time.Time) error {
	return s.attempts.Record(ctx, scope, identity, now)
}

// ApplyBanIfExceeded re-checks the IP threshold after a recorded failure
// and escalates the ban when crossed. Returns whether a ban was written.
// A ban escalates at most once per episode: while a sentence is running,
// further threshold crossings are no-ops, so concurrent crossers converge
// on one ban at the base duration. Doubling only happens when a fresh
// violation lands after the previous sentence has run out.
func (s *RateLimitService) ApplyBanIfExceeded(ctx context.Context, ipAddress string, now time.Time) (bool, error) {
	count, err := s.attempts.CountSince(ctx, models.ScopeIP, ipAddress, now.Add(-s.config.LockoutWindow))
	if err != nil {
		return false, err
	}
	if count < s.config.MaxAttempts {
		return false, nil
	}

	banned, err := s.IsBanned(ctx, ipAddress, now)
	if err != nil {
		return false, err
	}
	if banned {
		return false, nil
	}

	if err := s.bans.Escalate(ctx, ipAddress, now, s.config.BaseBanDuration, s.config.MaxBanDuration); err != nil {
		return false, err
	}

	s.logger.Warn("ip ban applied",
		slog.String("ip_address", ipAddress),
		slog.Int("failed_attempts", count))
	return true, nil
}

// ApplyFixedBan bans the IP for a fixed duration without escalation. Used
// for immediate policy violations such as restricted-username probes.
func (s *RateLimitService) ApplyFixedBan(ctx context.Context, ipAddress string, now time.Time, duration time.Duration) error {
	if err := s.bans.ApplyFixed(ctx, ipAddress, now, duration); err != nil {
		return err
	}

	s.logger.Warn("fixed ip ban applied",
		slog.String("ip_address", ipAddress),
		slog.Duration("duration", duration))
	return nil
}

// ClearAttempts wipes one identity's failure history. Called on successful
// authentication; other identities' counters are untouched.
func (s *RateLimitService) ClearAttempts(ctx context.Context, scope models.AttemptScope, identity string) error {
	return s.attempts.Clear(ctx, scope, identity)
}

// Cleanup reclaims ledger rows that aged out of the lockout window and ban
// rows whose sentence plus grace period has elapsed. Pure storage
// reclamation; active decisions never depend on rows this old.
func (s *RateLimitService) Cleanup(ctx context.Context, now time.Time) (attempts, bans int64, err error) {
	attempts, err = s.attempts.DeleteOlderThan(ctx, now.Add(-s.config.LockoutWindow))
	if err != nil {
		return attempts, 0, err
	}

	bans, err = s.bans.DeleteDecayed(ctx, now, s.config.BanGracePeriod)
	if err != nil {
		return attempts, bans, err
	}

	return attempts, bans, nil
}
