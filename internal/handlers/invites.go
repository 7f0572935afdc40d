package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ewhitley/gatehouse/internal/auth"
	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/ewhitley/gatehouse/internal/services"
	pkghttp "github.com/ewhitley/gatehouse/pkg/http"
	"github.com/go-chi/chi/v5"
)

// InviteHandler exposes admin management of invitation codes.
type InviteHandler struct {
	inviteService *services.InviteService
	auditService  *services.AuditService
	ipConfig      *pkghttp.IPConfig
}

// NewInviteHandler creates a new InviteHandler
func NewInviteHandler(
	inviteService *services.InviteService,
	auditService *services.AuditService,
	ipConfig *pkghttp.IPConfig,
) *InviteHandler {
	return &InviteHandler{
		inviteService: inviteService,
		auditService:  auditService,
		ipConfig:      ipConfig,
	}
}

// CreateInviteRequest represents the request body for generating a code.
// Zero values fall back to the configured defaults.
type CreateInviteRequest struct {
	ExpirationDays int `json:"expiration_days" validate:"gte=0,lte=365"`
	MaxUses        int `json:"max_uses" validate:"gte=0,lte=1000"`
}

// InviteResponse represents an invitation code
type InviteResponse struct {
	Code           string    `json:"code"`
	ExpirationDate time.Time `json:"expiration_date"`
	UsageCount     int       `json:"usage_count"`
	MaxUses        int       `json:"max_uses"`
	CreatedAt      time.Time `json:"created_at"`
}

func toInviteResponse(invite *models.InvitationCode) InviteResponse {
	return InviteResponse{
		Code:           invite.Code,
		ExpirationDate: invite.ExpirationDate,
		UsageCount:     invite.UsageCount,
		MaxUses:        invite.MaxUses,
		CreatedAt:      invite.CreatedAt,
	}
}

// Create generates a new invitation code
// @Summary Generate an invitation code
// @Accept json
// @Param request body CreateInviteRequest true "Invite options"
// @Produce json
// @Success 201 {object} InviteResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /admin/invites [post]
func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateInviteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
		if err := ValidateRequest(req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	invite, err := h.inviteService.Generate(r.Context(), time.Now(), services.GenerateOptions{
		Expiration: time.Duration(req.ExpirationDays) * 24 * time.Hour,
		MaxUses:    req.MaxUses,
	})
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to generate invitation code")
		return
	}

	session := auth.SessionFromContext(r.Context())
	h.auditService.Record(r.Context(), models.EventInviteGenerated, session.Username,
		pkghttp.ExtractClientIP(r, h.ipConfig),
		fmt.Sprintf("code %s, max uses %d", invite.Code, invite.MaxUses))

	writeJSON(w, http.StatusCreated, toInviteResponse(invite))
}

// List returns invitation codes, newest first
// @Summary List invitation codes
// @Produce json
// @Success 200 {array} InviteResponse
// @Router /admin/invites [get]
func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	invites, err := h.inviteService.List(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list invitation codes")
		return
	}

	resp := make([]InviteResponse, 0, len(invites))
	for _, invite := range invites {
		resp = append(resp, toInviteResponse(invite))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Expire revokes an invitation code immediately
// @Summary Expire an invitation code
// @Success 204
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /admin/invites/{code}/expire [post]
func (h *InviteHandler) Expire(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if err := h.inviteService.ExpireNow(r.Context(), code, time.Now()); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Invitation code not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to expire invitation code")
		return
	}

	session := auth.SessionFromContext(r.Context())
	h.auditService.Record(r.Context(), models.EventInviteExpired, session.Username,
		pkghttp.ExtractClientIP(r, h.ipConfig), fmt.Sprintf("code %s", code))

	w.WriteHeader(http.StatusNoContent)
}
