package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ewhitley/gatehouse/internal/auth"
	"github.com/ewhitley/gatehouse/internal/models"
	pkgauth "github.com/ewhitley/gatehouse/pkg/auth"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
)

// UserStore defines the persistence operations for user accounts
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	CreateTx(ctx context.Context, tx pgx.Tx, user *models.User) (*models.User, error)
}

// InviteConsumer is the transactional slice of the invite registry used
// during registration.
type InviteConsumer interface {
	ConsumeTx(ctx context.Context, tx pgx.Tx, code string, now time.Time) (bool, error)
}

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// AuthConfig holds the policy knobs the guard applies directly
type AuthConfig struct {
	RestrictedBanDuration time.Duration
}

// RegisterRequest carries the registration form fields.
type RegisterRequest struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	InviteCode      string
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// restrictedUsernameParts are substrings that no registered username may
// contain. A probe for one of these earns an immediate temporary IP ban.
var restrictedUsernameParts = []string{
	"admin", "root", "sysadmin", "moderator",
	"support", "webmaster", "staff", "helpdesk",
}

// dummyHash is a bcrypt hash of a random value, compared against when the
// username does not exist so lookups and real failures take the same time.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// AuthService orchestrates a single authentication request: CSRF first,
// then ban state, then per-identity rate limits, then credentials. Every
// accept and reject path writes an audit event; a rejection that also
// bans the IP writes a ban_applied entry alongside the failure.
type AuthService struct {
	sessions   *SessionService
	rateLimits *RateLimitService
	invites    *InviteService
	audit      *AuditService
	users      UserStore
	consumer   InviteConsumer
	tx         TxRunner
	timing     *auth.TimingDelay
	validate   *validator.Validate
	config     AuthConfig
	logger     *slog.Logger
}

func NewAuthService(
	sessions *SessionService,
	rateLimits *RateLimitService,
	invites *InviteService,
	audit *AuditService,
	users UserStore,
	consumer InviteConsumer,
	tx TxRunner,
	timing *auth.TimingDelay,
	config AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		sessions:   sessions,
		rateLimits: rateLimits,
		invites:    invites,
		audit:      audit,
		users:      users,
		consumer:   consumer,
		tx:         tx,
		timing:     timing,
		validate:   validator.New(),
		config:     config,
		logger:     logger,
	}
}

// checkCSRF applies the token policy shared by every state-changing
// request. Missing and Mismatch destroy the session outright; Expired
// rotates the token transparently and rejects only the current request.
func (s *AuthService) checkCSRF(ctx context.Context, session *models.Session, submitted, eventType, username, ip string, now time.Time) error {
	switch s.sessions.ValidateCSRF(session, submitted, now) {
	case auth.CSRFValid:
		return nil
	case auth.CSRFExpired:
		if err := s.sessions.RotateCSRF(ctx, session, now); err != nil {
			return err
		}
		s.audit.Record(ctx, eventType, username, ip, "csrf token expired, rotated")
		return models.ErrCSRFInvalid
	default:
		if err := s.sessions.Destroy(ctx, session.Token); err != nil {
			return err
		}
		session.Token = ""
		s.audit.Record(ctx, eventType, username, ip, "csrf token missing or mismatched, session destroyed")
		return models.ErrCSRFInvalid
	}
}

// Login runs the full login state machine against the given session. On
// success the session is promoted in place: fresh token, fresh CSRF token,
// identity attached.
func (s *AuthService) Login(ctx context.Context, session *models.Session, csrfToken, username, password, ip string, now time.Time) error {
	start := time.Now()
	username = strings.ToLower(strings.TrimSpace(username))

	if err := s.checkCSRF(ctx, session, csrfToken, models.EventLoginFailure, username, ip, now); err != nil {
		return err
	}

	ipResult, err := s.rateLimits.CheckIP(ctx, ip, now)
	if err != nil {
		return err
	}
	switch ipResult {
	case models.RateLimitBanned:
		s.audit.Record(ctx, models.EventLoginFailure, username, ip, "rejected: ip banned")
		return models.ErrIPBanned
	case models.RateLimitExceeded:
		s.audit.Record(ctx, models.EventLoginFailure, username, ip, "rejected: ip rate limited")
		return models.ErrIPRateLimited
	}

	if !usernamePattern.MatchString(username) {
		if err := s.rateLimits.RecordFailure(ctx, models.ScopeIP, ip, now); err != nil {
			return err
		}
		s.audit.Record(ctx, models.EventLoginFailure, "", ip, "rejected: malformed username")
		return fmt.Errorf("%w: username format", models.ErrValidation)
	}

	usernameResult, err := s.rateLimits.CheckUsername(ctx, username, now)
	if err != nil {
		return err
	}
	if usernameResult == models.RateLimitExceeded {
		s.audit.Record(ctx, models.EventLoginFailure, username, ip, "rejected: account locked by rate limit")
		return models.ErrAccountLocked
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	hash := dummyHash
	if user != nil {
		hash = user.PasswordHash
	}

	if compareErr := pkgauth.ComparePassword(hash, password); user == nil || compareErr != nil {
		if err := s.rateLimits.RecordFailure(ctx, models.ScopeIP, ip, now); err != nil {
			return err
		}
		if err := s.rateLimits.RecordFailure(ctx, models.ScopeUsername, username, now); err != nil {
			return err
		}
		banApplied, err := s.rateLimits.ApplyBanIfExceeded(ctx, ip, now)
		if err != nil {
			return err
		}
		s.audit.Record(ctx, models.EventLoginFailure, username, ip, "rejected: bad credentials")
		if banApplied {
			s.audit.Record(ctx, models.EventBanApplied, username, ip, "escalating ip ban applied after repeated failures")
		}
		s.timing.WaitFrom(start, false)
		return models.ErrUnauthorized
	}

	if err := s.rateLimits.ClearAttempts(ctx, models.ScopeIP, ip); err != nil {
		return err
	}
	if err := s.rateLimits.ClearAttempts(ctx, models.ScopeUsername, username); err != nil {
		return err
	}

	if err := s.sessions.Promote(ctx, session, user.Username, user.Role, now); err != nil {
		return err
	}

	s.audit.Record(ctx, models.EventLoginSuccess, user.Username, ip, "login successful")
	return nil
}

// Register runs the registration state machine. The invite consumption and
// the user insert commit or roll back together, so a code is never spent
// on a registration that fails.
func (s *AuthService) Register(ctx context.Context, session *models.Session, csrfToken string, req RegisterRequest, ip string, now time.Time) error {
	username := strings.ToLower(strings.TrimSpace(req.Username))

	if err := s.checkCSRF(ctx, session, csrfToken, models.EventRegisterFailure, username, ip, now); err != nil {
		return err
	}

	ipResult, err := s.rateLimits.CheckIP(ctx, ip, now)
	if err != nil {
		return err
	}
	switch ipResult {
	case models.RateLimitBanned:
		s.audit.Record(ctx, models.EventRegisterFailure, username, ip, "rejected: ip banned")
		return models.ErrIPBanned
	case models.RateLimitExceeded:
		s.audit.Record(ctx, models.EventRegisterFailure, username, ip, "rejected: ip rate limited")
		return models.ErrIPRateLimited
	}

	for _, part := range restrictedUsernameParts {
		if strings.Contains(username, part) {
			if err := s.rateLimits.ApplyFixedBan(ctx, ip, now, s.config.RestrictedBanDuration); err != nil {
				return err
			}
			s.audit.Record(ctx, models.EventRegisterFailure, username, ip,
				fmt.Sprintf("rejected: restricted username (contains %q)", part))
			s.audit.Record(ctx, models.EventBanApplied, username, ip,
				fmt.Sprintf("temporary ip ban applied for %s", s.config.RestrictedBanDuration))
			return models.ErrRestrictedUsername
		}
	}

	if detail := s.validateRegistration(username, req); detail != "" {
		if err := s.rateLimits.RecordFailure(ctx, models.ScopeIP, ip, now); err != nil {
			return err
		}
		s.audit.Record(ctx, models.EventRegisterFailure, username, ip, "rejected: "+detail)
		return fmt.Errorf("%w: %s", models.ErrValidation, detail)
	}

	status, _, err := s.invites.Validate(ctx, req.InviteCode, now)
	if err != nil {
		return err
	}
	if inviteErr := inviteStatusError(status); inviteErr != nil {
		s.audit.Record(ctx, models.EventInviteFailure, username, ip,
			fmt.Sprintf("rejected: invite code %s", status))
		return inviteErr
	}

	passwordHash, err := pkgauth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	user := &models.User{
		Username:     username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         models.RoleUser,
	}

	err = s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		consumed, err := s.consumer.ConsumeTx(ctx, tx, req.InviteCode, now)
		if err != nil {
			return err
		}
		if !consumed {
			// Lost a race since the validate above; re-read to classify.
			status, _, err := s.invites.Validate(ctx, req.InviteCode, now)
			if err != nil {
				return err
			}
			if inviteErr := inviteStatusError(status); inviteErr != nil {
				return inviteErr
			}
			return models.ErrInviteInvalid
		}

		_, err = s.users.CreateTx(ctx, tx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.audit.Record(ctx, models.EventRegisterFailure, username, ip, "rejected: username already taken")
			return models.ErrConflict
		}
		if isInviteError(err) {
			s.audit.Record(ctx, models.EventInviteFailure, username, ip, "rejected: invite code no longer usable")
			return err
		}
		return err
	}

	if err := s.sessions.Promote(ctx, session, user.Username, user.Role, now); err != nil {
		return err
	}

	s.audit.Record(ctx, models.EventRegisterSuccess, username, ip,
		fmt.Sprintf("registration successful with invite code %s", strings.ToLower(req.InviteCode)))
	return nil
}

// Logout validates the CSRF token and destroys the session.
func (s *AuthService) Logout(ctx context.Context, session *models.Session, csrfToken, ip string, now time.Time) error {
	username := session.Username

	if err := s.checkCSRF(ctx, session, csrfToken, models.EventLogout, username, ip, now); err != nil {
		return err
	}

	if err := s.sessions.Destroy(ctx, session.Token); err != nil {
		return err
	}
	session.Token = ""

	s.audit.Record(ctx, models.EventLogout, username, ip, "logout")
	return nil
}

func (s *AuthService) validateRegistration(username string, req RegisterRequest) string {
	if !usernamePattern.MatchString(username) {
		return "malformed username"
	}
	if err := s.validate.Var(req.Email, "required,email"); err != nil {
		return "malformed email address"
	}
	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		var validationErr *pkgauth.PasswordValidationError
		if errors.As(err, &validationErr) {
			return "weak password: " + strings.Join(validationErr.Errors, "; ")
		}
		return "weak password"
	}
	if req.Password != req.PasswordConfirm {
		return "password confirmation mismatch"
	}
	if req.InviteCode == "" {
		return "missing invite code"
	}
	return ""
}

func inviteStatusError(status models.InviteStatus) error {
	switch status {
	case models.InviteNotFound:
		return models.ErrInviteInvalid
	case models.InviteExpired:
		return models.ErrInviteExpired
	case models.InviteExhausted:
		return models.ErrInviteExhausted
	default:
		return nil
	}
}

func isInviteError(err error) bool {
	return errors.Is(err, models.ErrInviteInvalid) ||
		errors.Is(err, models.ErrInviteExpired) ||
		errors.Is(err, models.ErrInviteExhausted)
}
