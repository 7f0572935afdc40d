package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ewhitley/gatehouse/internal/auth"
	"github.com/ewhitley/gatehouse/internal/database"
	"github.com/ewhitley/gatehouse/internal/handlers"
	middlewareCustom "github.com/ewhitley/gatehouse/internal/middleware"
	"github.com/ewhitley/gatehouse/internal/repositories"
	"github.com/ewhitley/gatehouse/internal/routes"
	"github.com/ewhitley/gatehouse/internal/services"
	pkghttp "github.com/ewhitley/gatehouse/pkg/http"
)

// TestServer wraps httptest.Server with the full service stack over a real
// database. Policy knobs are tightened so lockout paths are reachable in
// test time.
type TestServer struct {
	Server     *httptest.Server
	DB         *database.DB
	Sessions   *services.SessionService
	RateLimits *services.RateLimitService
	Invites    *services.InviteService
	Audit      *services.AuditService
}

// TestSecurityPolicy returns the rate limit policy used by the test server
func TestSecurityPolicy() services.RateLimitConfig {
	return services.RateLimitConfig{
		MaxAttempts:     3,
		LockoutWindow:   15 * time.Minute,
		BaseBanDuration: 10 * time.Minute,
		MaxBanDuration:  24 * time.Hour,
		BanGracePeriod:  24 * time.Hour,
	}
}

// NewTestServer wires the complete HTTP stack against the given database
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	attemptRepo := repositories.NewAttemptRepository(db)
	banRepo := repositories.NewBanRepository(db)
	inviteRepo := repositories.NewInviteRepository(db)
	eventLogRepo := repositories.NewEventLogRepository(db)

	sessionService := services.NewSessionService(sessionRepo, services.SessionConfig{
		CSRFTimeout:       time.Hour,
		InactivityTimeout: time.Hour,
	}, logger)

	rateLimitService := services.NewRateLimitService(attemptRepo, banRepo, TestSecurityPolicy(), logger)

	inviteService := services.NewInviteService(inviteRepo, services.InviteConfig{
		DefaultExpiration: 7 * 24 * time.Hour,
		DefaultMaxUses:    5,
	}, logger)

	auditService := services.NewAuditService(eventLogRepo, logger)

	// No artificial delay in tests
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})

	authService := services.NewAuthService(
		sessionService,
		rateLimitService,
		inviteService,
		auditService,
		userRepo,
		inviteRepo,
		db,
		timingDelay,
		services.AuthConfig{RestrictedBanDuration: time.Hour},
		logger,
	)

	cookieConfig := auth.CookieConfig{SameSite: "strict"}
	ipConfig := &pkghttp.IPConfig{}

	authHandler := handlers.NewAuthHandler(authService, sessionService, cookieConfig, ipConfig)
	inviteHandler := handlers.NewInviteHandler(inviteService, auditService, ipConfig)
	auditHandler := handlers.NewAuditHandler(auditService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	router.Use(middlewareCustom.SessionLoader(sessionService, cookieConfig, logger))

	routes.RegisterRoutes(router, authHandler, inviteHandler, auditHandler)

	return &TestServer{
		Server:     httptest.NewServer(router),
		DB:         db,
		Sessions:   sessionService,
		RateLimits: rateLimitService,
		Invites:    inviteService,
		Audit:      auditService,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// TestClient is one simulated browser: a cookie jar plus the CSRF token it
// last fetched.
type TestClient struct {
	http      *http.Client
	baseURL   string
	csrfToken string
}

// NewTestClient creates a client with its own cookie jar
func (ts *TestServer) NewTestClient() (*TestClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &TestClient{
		http:    &http.Client{Jar: jar},
		baseURL: ts.Server.URL,
	}, nil
}

// FetchCSRF bootstraps the session and stores the CSRF token for later
// requests
func (c *TestClient) FetchCSRF() error {
	resp, err := c.http.Get(c.baseURL + "/auth/csrf")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("csrf bootstrap returned %d", resp.StatusCode)
	}

	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	c.csrfToken = body.CSRFToken
	return nil
}

// SetCSRF overrides the token sent with subsequent requests
func (c *TestClient) SetCSRF(token string) {
	c.csrfToken = token
}

// PostJSON sends a JSON body with the stored CSRF token attached
func (c *TestClient) PostJSON(path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.csrfToken != "" {
		req.Header.Set(handlers.CSRFHeaderName, c.csrfToken)
	}

	return c.http.Do(req)
}

// Get performs a GET request with the client's cookies
func (c *TestClient) Get(path string) (*http.Response, error) {
	return c.http.Get(c.baseURL + path)
}

// Login runs the csrf-then-login sequence and updates the stored CSRF token
// from the response
func (c *TestClient) Login(username, password string) (*http.Response, error) {
	resp, err := c.PostJSON("/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		var body struct {
			CSRFToken string `json:"csrf_token"`
		}
		if err := decodeAndClose(resp, &body); err != nil {
			return resp, err
		}
		c.csrfToken = body.CSRFToken
	}
	return resp, nil
}

// Register runs the registration call and updates the stored CSRF token on
// success
func (c *TestClient) Register(username, email, password, inviteCode string) (*http.Response, error) {
	resp, err := c.PostJSON("/auth/register", map[string]string{
		"username":         username,
		"email":            email,
		"password":         password,
		"password_confirm": password,
		"invite_code":      inviteCode,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusCreated {
		var body struct {
			CSRFToken string `json:"csrf_token"`
		}
		if err := decodeAndClose(resp, &body); err != nil {
			return resp, err
		}
		c.csrfToken = body.CSRFToken
	}
	return resp, nil
}

// decodeAndClose decodes a JSON response body and closes it. The response
// stays usable for status checks afterwards.
func decodeAndClose(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}
