package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/ewhitley/gatehouse/internal/services"
)

// CleanupManager periodically sweeps stale security state: attempt buckets
// outside the lockout window, decayed IP bans, inactive sessions, and audit
// entries past retention.
type CleanupManager struct {
	rateLimits   *services.RateLimitService
	sessions     *services.SessionService
	audit        *services.AuditService
	logger       *slog.Logger
	interval     time.Duration
	logRetention time.Duration
	stopCh       chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	rateLimits *services.RateLimitService,
	sessions *services.SessionService,
	audit *services.AuditService,
	logger *slog.Logger,
	interval time.Duration,
	logRetention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		rateLimits:   rateLimits,
		sessions:     sessions,
		audit:        audit,
		logger:       logger,
		interval:     interval,
		logRetention: logRetention,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps each store in turn. Failures are logged and the sweep
// continues; one broken store must not block the others.
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()

	attempts, bans, err := cm.rateLimits.Cleanup(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to cleanup rate limit state", slog.Any("error", err))
	} else if attempts > 0 || bans > 0 {
		cm.logger.Info("rate limit cleanup completed",
			slog.Int64("attempts_deleted", attempts),
			slog.Int64("bans_deleted", bans))
	}

	sessions, err := cm.sessions.CleanupInactive(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to cleanup inactive sessions", slog.Any("error", err))
	} else if sessions > 0 {
		cm.logger.Info("session cleanup completed", slog.Int64("sessions_deleted", sessions))
	}

	entries, err := cm.audit.Cleanup(cleanupCtx, now.Add(-cm.logRetention))
	if err != nil {
		cm.logger.Error("failed to cleanup audit log", slog.Any("error", err))
	} else if entries > 0 {
		cm.logger.Info("audit log cleanup completed", slog.Int64("entries_deleted", entries))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
