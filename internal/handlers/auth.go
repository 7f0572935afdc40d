package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ewhitley/gatehouse/internal/auth"
	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/ewhitley/gatehouse/internal/services"
	pkghttp "github.com/ewhitley/gatehouse/pkg/http"
)

// CSRFHeaderName is the request header carrying the anti-forgery token for
// state-changing endpoints.
const CSRFHeaderName = "X-CSRF-Token"

// AuthHandler handles session bootstrap, login, registration, and logout.
type AuthHandler struct {
	authService    *services.AuthService
	sessionService *services.SessionService
	cookies        auth.CookieConfig
	ipConfig       *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	authService *services.AuthService,
	sessionService *services.SessionService,
	cookies auth.CookieConfig,
	ipConfig *pkghttp.IPConfig,
) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		sessionService: sessionService,
		cookies:        cookies,
		ipConfig:       ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login. Fields are not
// pre-validated here: missing or empty credentials go through the full
// service state machine so the failure lands in the attempt ledger and
// the audit log like any other.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents the request body for registration. Field
// validation is the service's job, same as LoginRequest.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	InviteCode      string `json:"invite_code"`
}

// CSRFResponse returns the token a client must echo back in the
// X-CSRF-Token header.
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// SessionResponse describes the caller's current session.
type SessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
	CSRFToken     string `json:"csrf_token"`
}

// GetCSRF bootstraps a session. Returns the existing session's CSRF token,
// or starts an anonymous session and sets the cookie.
// @Summary Obtain a CSRF token
// @Produce json
// @Success 200 {object} CSRFResponse
// @Router /auth/csrf [get]
func (h *AuthHandler) GetCSRF(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if session == nil {
		created, err := h.sessionService.Start(r.Context(), time.Now())
		if err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		session = created
		auth.SetSessionCookie(w, session.Token, h.cookies)
	}

	writeJSON(w, http.StatusOK, CSRFResponse{CSRFToken: session.CSRFToken})
}

// Session reports the caller's session state.
// @Summary Current session
// @Produce json
// @Success 200 {object} SessionResponse
// @Router /auth/session [get]
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	writeJSON(w, http.StatusOK, SessionResponse{
		Authenticated: session.Authenticated(),
		Username:      session.Username,
		Role:          session.Role,
		CSRFToken:     session.CSRFToken,
	})
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if session == nil {
		pkghttp.WriteForbidden(w, "Invalid or missing CSRF token")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	csrfToken := r.Header.Get(CSRFHeaderName)

	err := h.authService.Login(r.Context(), session, csrfToken, req.Username, req.Password, ip, time.Now())
	if err != nil {
		h.writeAuthError(w, session, err)
		return
	}

	// Login rotated the session token; reissue the cookie.
	auth.SetSessionCookie(w, session.Token, h.cookies)

	writeJSON(w, http.StatusOK, SessionResponse{
		Authenticated: true,
		Username:      session.Username,
		Role:          session.Role,
		CSRFToken:     session.CSRFToken,
	})
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Registration request"
// @Produce json
// @Success 201 {object} SessionResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if session == nil {
		pkghttp.WriteForbidden(w, "Invalid or missing CSRF token")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	csrfToken := r.Header.Get(CSRFHeaderName)

	err := h.authService.Register(r.Context(), session, csrfToken, services.RegisterRequest{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		InviteCode:      req.InviteCode,
	}, ip, time.Now())
	if err != nil {
		h.writeAuthError(w, session, err)
		return
	}

	auth.SetSessionCookie(w, session.Token, h.cookies)

	writeJSON(w, http.StatusCreated, SessionResponse{
		Authenticated: true,
		Username:      session.Username,
		Role:          session.Role,
		CSRFToken:     session.CSRFToken,
	})
}

// Logout handles user logout by destroying the session
// @Summary User logout
// @Success 204
// @Failure 403 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if session == nil {
		pkghttp.WriteForbidden(w, "Invalid or missing CSRF token")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	csrfToken := r.Header.Get(CSRFHeaderName)

	if err := h.authService.Logout(r.Context(), session, csrfToken, ip, time.Now()); err != nil {
		h.writeAuthError(w, session, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// writeAuthError maps service errors onto HTTP responses. Messages stay
// generic so responses never reveal whether a username exists or why a
// request tripped the rate limiter.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, session *models.Session, err error) {
	switch {
	case errors.Is(err, models.ErrCSRFInvalid):
		// A destroyed session leaves the token empty; drop the stale cookie.
		if session.Token == "" {
			auth.ClearSessionCookie(w, h.cookies)
		}
		pkghttp.WriteForbidden(w, "Invalid or missing CSRF token")
	case errors.Is(err, models.ErrIPBanned),
		errors.Is(err, models.ErrIPRateLimited),
		errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteTooManyRequests(w, "Too many attempts. Please try again later.")
	case errors.Is(err, models.ErrRestrictedUsername):
		pkghttp.WriteForbidden(w, "This username is not available")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Invalid username or password")
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteBadRequest(w, "Invalid request details")
	case errors.Is(err, models.ErrInviteInvalid),
		errors.Is(err, models.ErrInviteExpired),
		errors.Is(err, models.ErrInviteExhausted):
		pkghttp.WriteBadRequest(w, "Invalid or expired invitation code")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Username is already taken")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// writeJSON writes a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
