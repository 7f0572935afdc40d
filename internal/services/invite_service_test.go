package services_test

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/ewhitley/gatehouse/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockInviteStore implements services.InviteStore for testing
type MockInviteStore struct {
	codes          map[string]*models.InvitationCode
	failCreates    int // number of Create calls to reject with ErrConflict
	createAttempts int
}

func NewMockInviteStore() *MockInviteStore {
	return &MockInviteStore{codes: make(map[string]*models.InvitationCode)}
}

func (m *MockInviteStore) Create(ctx context.Context, invite *models.InvitationCode) (*models.InvitationCode, error) {
	m.createAttempts++
	if m.failCreates > 0 {
		m.failCreates--
		return nil, models.ErrConflict
	}
	if _, exists := m.codes[invite.Code]; exists {
		return nil, models.ErrConflict
	}
	copied := *invite
	copied.CreatedAt = time.Now()
	m.codes[invite.Code] = &copied
	return &copied, nil
}

func (m *MockInviteStore) GetByCode(ctx context.Context, code string) (*models.InvitationCode, error) {
	invite, ok := m.codes[strings.ToLower(code)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *invite
	return &copied, nil
}

func (m *MockInviteStore) ExpireNow(ctx context.Context, code string, now time.Time) error {
	invite, ok := m.codes[strings.ToLower(code)]
	if !ok {
		return models.ErrNotFound
	}
	if invite.ExpirationDate.After(now) {
		invite.ExpirationDate = now
	}
	return nil
}

func (m *MockInviteStore) List(ctx context.Context, limit, offset int) ([]*models.InvitationCode, error) {
	invites := make([]*models.InvitationCode, 0, len(m.codes))
	for _, invite := range m.codes {
		copied := *invite
		invites = append(invites, &copied)
	}
	return invites, nil
}

func testInviteConfig() services.InviteConfig {
	return services.InviteConfig{
		DefaultExpiration: 7 * 24 * time.Hour,
		DefaultMaxUses:    5,
	}
}

func TestInviteService_Generate_MatchesPattern(t *testing.T) {
	repo := NewMockInviteStore()
	service := services.NewInviteService(repo, testInviteConfig(), testLogger())
	now := time.Now()

	invite, err := service.Generate(context.Background(), now, services.GenerateOptions{})

	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[a-z]{3}[0-9]{3}$`), invite.Code)
	assert.Equal(t, 5, invite.MaxUses)
	assert.Zero(t, invite.UsageCount)
	assert.Equal(t, now.Add(7*24*time.Hour), invite.ExpirationDate)
}

func TestInviteService_Generate_HonorsOverrides(t *testing.T) {
	repo := NewMockInviteStore()
	service := services.NewInviteService(repo, testInviteConfig(), testLogger())
	now := time.Now()

	invite, err := service.Generate(context.Background(), now, services.GenerateOptions{
		Expiration: 48 * time.Hour,
		MaxUses:    1,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, invite.MaxUses)
	assert.Equal(t, now.Add(48*time.Hour), invite.ExpirationDate)
}

func TestInviteService_Generate_RetriesOnCollision(t *testing.T) {
	repo := NewMockInviteStore()
	repo.failCreates = 3
	service := services.NewInviteService(repo, testInviteConfig(), testLogger())

	invite, err := service.Generate(context.Background(), time.Now(), services.GenerateOptions{})

	require.NoError(t, err)
	assert.NotNil(t, invite)
	assert.Equal(t, 4, repo.createAttempts)
}

func TestInviteService_Generate_FailsAfterBoundedRetries(t *testing.T) {
	repo := NewMockInviteStore()
	repo.failCreates = 10
	service := services.NewInviteService(repo, testInviteConfig(), testLogger())

	_, err := service.Generate(context.Background(), time.Now(), services.GenerateOptions{})

	require.Error(t, err)
	assert.Equal(t, 10, repo.createAttempts)
}

func TestInviteService_Validate(t *testing.T) {
	repo := NewMockInviteStore()
	service := services.NewInviteService(repo, testInviteConfig(), testLogger())
	ctx := context.Background()
	now := time.Now()

	repo.codes["abc123"] = &models.InvitationCode{
		Code: "abc123", ExpirationDate: now.Add(time.Hour), UsageCount: 0, MaxUses: 2,
	}
	repo.codes["old999"] = &models.InvitationCode{
		Code: "old999", ExpirationDate: now.Add(-time.Hour), UsageCount: 0, MaxUses: 2,
	}
	repo.codes["ful777"] = &models.InvitationCode{
		Code: "ful777", ExpirationDate: now.Add(time.Hour), UsageCount: 2, MaxUses: 2,
	}

	tests := []struct {
		name string
		code string
		want models.InviteStatus
	}{
		{"valid code", "abc123", models.InviteValid},
		{"case-insensitive match", "ABC123", models.InviteValid},
		{"unknown code", "zzz000", models.InviteNotFound},
		{"expired code", "old999", models.InviteExpired},
		{"exhausted code", "ful777", models.InviteExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, err := service.Validate(ctx, tt.code, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestInviteService_ExpireNow(t *testing.T) {
	repo := NewMockInviteStore()
	service := services.NewInviteService(repo, testInviteConfig(), testLogger())
	ctx := context.Background()
	now := time.Now()

	repo.codes["abc123"] = &models.InvitationCode{
		Code: "abc123", ExpirationDate: now.Add(time.Hour), MaxUses: 5,
	}

	require.NoError(t, service.ExpireNow(ctx, "abc123", now))

	status, _, err := service.Validate(ctx, "abc123", now)
	require.NoError(t, err)
	assert.Equal(t, models.InviteExpired, status)

	// Expiring twice is a no-op and never moves the date forward; only an
	// unknown code reports not found.
	require.NoError(t, service.ExpireNow(ctx, "abc123", now.Add(time.Minute)))
	status, invite, err := service.Validate(ctx, "abc123", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.InviteExpired, status)
	assert.Equal(t, now, invite.ExpirationDate)

	assert.ErrorIs(t, service.ExpireNow(ctx, "zzz000", now), models.ErrNotFound)
}
