package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/ewhitley/gatehouse/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAttemptStore implements services.AttemptStore for testing
type MockAttemptStore struct {
	buckets map[string]map[time.Time]int
}

func NewMockAttemptStore() *MockAttemptStore {
	return &MockAttemptStore{buckets: make(map[string]map[time.Time]int)}
}

func attemptKey(scope models.AttemptScope, identity string) string {
	return scope.String() + "|" + identity
}

func (m *MockAttemptStore) Record(ctx context.Context, scope models.AttemptScope, identity string, at time.Time) error {
	key := attemptKey(scope, identity)
	if m.buckets[key] == nil {
		m.buckets[key] = make(map[time.Time]int)
	}
	m.buckets[key][at.UTC().Truncate(time.Second)]++
	return nil
}

func (m *MockAttemptStore) CountSince(ctx context.Context, scope models.AttemptScope, identity string, since time.Time) (int, error) {
	total := 0
	for at, count := range m.buckets[attemptKey(scope, identity)] {
		if at.After(since) {
			total += count
		}
	}
	return total, nil
}

func (m *MockAttemptStore) Clear(ctx context.Context, scope models.AttemptScope, identity string) error {
	delete(m.buckets, attemptKey(scope, identity))
	return nil
}

func (m *MockAttemptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for _, bucket := range m.buckets {
		for at := range bucket {
			if at.Before(cutoff) {
				delete(bucket, at)
				removed++
			}
		}
	}
	return removed, nil
}

// MockBanStore implements services.BanStore for testing
type MockBanStore struct {
	bans map[string]*models.BannedIP
}

func NewMockBanStore() *MockBanStore {
	return &MockBanStore{bans: make(map[string]*models.BannedIP)}
}

func (m *MockBanStore) Get(ctx context.Context, ipAddress string) (*models.BannedIP, error) {
	ban, ok := m.bans[ipAddress]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *ban
	return &copied, nil
}

func (m *MockBanStore) Escalate(ctx context.Context, ipAddress string, now time.Time, base, max time.Duration) error {
	if existing, ok := m.bans[ipAddress]; ok {
		// A sentence still in force is left untouched, matching the
		// guarded upsert in the real repository.
		if now.Before(existing.BanStart.Add(existing.BanDuration)) {
			return nil
		}
		doubled := existing.BanDuration * 2
		if doubled > max {
			doubled = max
		}
		m.bans[ipAddress] = &models.BannedIP{IPAddress: ipAddress, BanStart: now, BanDuration: doubled}
		return nil
	}
	m.bans[ipAddress] = &models.BannedIP{IPAddress: ipAddress, BanStart: now, BanDuration: base}
	return nil
}

func (m *MockBanStore) ApplyFixed(ctx context.Context, ipAddress string, now time.Time, duration time.Duration) error {
	if existing, ok := m.bans[ipAddress]; ok && existing.BanDuration > duration {
		duration = existing.BanDuration
	}
	m.bans[ipAddress] = &models.BannedIP{IPAddress: ipAddress, BanStart: now, BanDuration: duration}
	return nil
}

func (m *MockBanStore) DeleteDecayed(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	var removed int64
	for ip, ban := range m.bans {
		if !now.Before(ban.BanStart.Add(ban.BanDuration + grace)) {
			delete(m.bans, ip)
			removed++
		}
	}
	return removed, nil
}

func testRateLimitConfig() services.RateLimitConfig {
	return services.RateLimitConfig{
		MaxAttempts:     6,
		LockoutWindow:   15 * time.Minute,
		BaseBanDuration: 10 * time.Minute,
		MaxBanDuration:  24 * time.Hour,
		BanGracePeriod:  24 * time.Hour,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newRateLimitService(attempts *MockAttemptStore, bans *MockBanStore) *services.RateLimitService {
	return services.NewRateLimitService(attempts, bans, testRateLimitConfig(), testLogger())
}

func TestRateLimitService_CheckIP_AllowsInitialAttempt(t *testing.T) {
	service := newRateLimitService(NewMockAttemptStore(), NewMockBanStore())

	result, err := service.CheckIP(context.Background(), "192.168.1.1", time.Now())

	require.NoError(t, err)
	assert.Equal(t, models.RateLimitOK, result)
}

func TestRateLimitService_CheckIP_ExceededAtThreshold(t *testing.T) {
	attempts := NewMockAttemptStore()
	service := newRateLimitService(attempts, NewMockBanStore())
	ctx := context.Background()
	now := time.Now()

	// Five failures keep the gate open, the sixth closes it.
	for i := 0; i < 5; i++ {
		require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now.Add(time.Duration(i)*time.Second)))
	}
	result, err := service.CheckIP(ctx, "192.168.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, models.RateLimitOK, result)

	require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now.Add(5*time.Second)))
	result, err = service.CheckIP(ctx, "192.168.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, models.RateLimitExceeded, result)
}

func TestRateLimitService_CheckIP_ExceededDoesNotWriteBan(t *testing.T) {
	attempts := NewMockAttemptStore()
	bans := NewMockBanStore()
	service := newRateLimitService(attempts, bans)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 6; i++ {
		require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now.Add(time.Duration(i)*time.Second)))
	}

	result, err := service.CheckIP(ctx, "192.168.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, models.RateLimitExceeded, result)
	assert.Empty(t, bans.bans)
}

func TestRateLimitService_CheckIP_BannedBeforeLedgerRead(t *testing.T) {
	bans := NewMockBanStore()
	service := newRateLimitService(NewMockAttemptStore(), bans)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, bans.Escalate(ctx, "192.168.1.1", now, 10*time.Minute, 24*time.Hour))

	result, err := service.CheckIP(ctx, "192.168.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, models.RateLimitBanned, result)
}

func TestRateLimitService_IsBanned_DecaysByTime(t *testing.T) {
	bans := NewMockBanStore()
	service := newRateLimitService(NewMockAttemptStore(), bans)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, bans.Escalate(ctx, "192.168.1.1", now, 10*time.Minute, 24*time.Hour))

	banned, err := service.IsBanned(ctx, "192.168.1.1", now.Add(10*time.Minute-time.Second))
	require.NoError(t, err)
	assert.True(t, banned)

	banned, err = service.IsBanned(ctx, "192.168.1.1", now.Add(10*time.Minute+time.Second))
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestRateLimitService_ApplyBanIfExceeded_EscalatesAndCaps(t *testing.T) {
	attempts := NewMockAttemptStore()
	bans := NewMockBanStore()
	service := newRateLimitService(attempts, bans)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 6; i++ {
		require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now.Add(time.Duration(i)*time.Second)))
	}

	applied, err := service.ApplyBanIfExceeded(ctx, "192.168.1.1", now.Add(6*time.Second))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 10*time.Minute, bans.bans["192.168.1.1"].BanDuration)

	// A violation after the sentence has run out doubles it and restarts
	// the clock. The earlier failures are still inside the 15m window.
	later := now.Add(11 * time.Minute)
	applied, err = service.ApplyBanIfExceeded(ctx, "192.168.1.1", later)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 20*time.Minute, bans.bans["192.168.1.1"].BanDuration)
	assert.Equal(t, later, bans.bans["192.168.1.1"].BanStart)

	// Each further post-decay violation doubles again until the cap.
	at := later
	for i := 0; i < 12; i++ {
		at = at.Add(bans.bans["192.168.1.1"].BanDuration + time.Minute)
		for j := 0; j < 6; j++ {
			require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", at.Add(time.Duration(j)*time.Second)))
		}
		applied, err = service.ApplyBanIfExceeded(ctx, "192.168.1.1", at.Add(6*time.Second))
		require.NoError(t, err)
		assert.True(t, applied)
	}
	assert.Equal(t, 24*time.Hour, bans.bans["192.168.1.1"].BanDuration)
}

func TestRateLimitService_ApplyBanIfExceeded_OncePerEpisode(t *testing.T) {
	attempts := NewMockAttemptStore()
	bans := NewMockBanStore()
	service := newRateLimitService(attempts, bans)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 6; i++ {
		require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now))
	}

	// Several requests cross the threshold together; only the first one
	// writes the ban and the sentence stays at the base duration.
	banTime := now.Add(time.Second)
	applied, err := service.ApplyBanIfExceeded(ctx, "192.168.1.1", banTime)
	require.NoError(t, err)
	assert.True(t, applied)

	for i := 0; i < 3; i++ {
		applied, err = service.ApplyBanIfExceeded(ctx, "192.168.1.1", banTime)
		require.NoError(t, err)
		assert.False(t, applied)
	}
	assert.Equal(t, 10*time.Minute, bans.bans["192.168.1.1"].BanDuration)
	assert.Equal(t, banTime, bans.bans["192.168.1.1"].BanStart)

	// A crossing later in the same sentence does not extend it either.
	applied, err = service.ApplyBanIfExceeded(ctx, "192.168.1.1", banTime.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 10*time.Minute, bans.bans["192.168.1.1"].BanDuration)
	assert.Equal(t, banTime, bans.bans["192.168.1.1"].BanStart)
}

func TestRateLimitService_ApplyBanIfExceeded_BelowThresholdNoWrite(t *testing.T) {
	attempts := NewMockAttemptStore()
	bans := NewMockBanStore()
	service := newRateLimitService(attempts, bans)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now.Add(time.Duration(i)*time.Second)))
	}

	applied, err := service.ApplyBanIfExceeded(ctx, "192.168.1.1", now)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, bans.bans)
}

func TestRateLimitService_CheckUsername_FlatThresholdNoBan(t *testing.T) {
	attempts := NewMockAttemptStore()
	bans := NewMockBanStore()
	service := newRateLimitService(attempts, bans)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 6; i++ {
		require.NoError(t, service.RecordFailure(ctx, models.ScopeUsername, "bob", now.Add(time.Duration(i)*time.Second)))
	}

	result, err := service.CheckUsername(ctx, "bob", now)
	require.NoError(t, err)
	assert.Equal(t, models.RateLimitExceeded, result)
	assert.Empty(t, bans.bans)
}

func TestRateLimitService_ConcurrentSameSecondFailuresAggregate(t *testing.T) {
	attempts := NewMockAttemptStore()
	service := newRateLimitService(attempts, NewMockBanStore())
	ctx := context.Background()
	at := time.Now().Truncate(time.Second)

	for i := 0; i < 6; i++ {
		require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", at))
	}

	count, err := attempts.CountSince(ctx, models.ScopeIP, "192.168.1.1", at.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Len(t, attempts.buckets[attemptKey(models.ScopeIP, "192.168.1.1")], 1)
}

func TestRateLimitService_ClearAttempts_ResetsOnlyThatIdentity(t *testing.T) {
	attempts := NewMockAttemptStore()
	service := newRateLimitService(attempts, NewMockBanStore())
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now))
	require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "10.0.0.9", now))
	require.NoError(t, service.RecordFailure(ctx, models.ScopeUsername, "bob", now))
	require.NoError(t, service.RecordFailure(ctx, models.ScopeUsername, "alice", now))

	require.NoError(t, service.ClearAttempts(ctx, models.ScopeIP, "192.168.1.1"))
	require.NoError(t, service.ClearAttempts(ctx, models.ScopeUsername, "bob"))

	since := now.Add(-time.Minute)
	count, _ := attempts.CountSince(ctx, models.ScopeIP, "192.168.1.1", since)
	assert.Zero(t, count)
	count, _ = attempts.CountSince(ctx, models.ScopeUsername, "bob", since)
	assert.Zero(t, count)
	count, _ = attempts.CountSince(ctx, models.ScopeIP, "10.0.0.9", since)
	assert.Equal(t, 1, count)
	count, _ = attempts.CountSince(ctx, models.ScopeUsername, "alice", since)
	assert.Equal(t, 1, count)
}

func TestRateLimitService_Cleanup(t *testing.T) {
	attempts := NewMockAttemptStore()
	bans := NewMockBanStore()
	service := newRateLimitService(attempts, bans)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now.Add(-time.Hour)))
	require.NoError(t, service.RecordFailure(ctx, models.ScopeIP, "192.168.1.1", now))
	require.NoError(t, bans.Escalate(ctx, "10.0.0.9", now.Add(-49*time.Hour), 10*time.Minute, 24*time.Hour))

	removedAttempts, removedBans, err := service.Cleanup(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removedAttempts)
	assert.Equal(t, int64(1), removedBans)
}
