package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/ewhitley/gatehouse/internal/services"
	pkghttp "github.com/ewhitley/gatehouse/pkg/http"
)

// AuditHandler exposes the security event log to admins.
type AuditHandler struct {
	auditService *services.AuditService
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// EventLogResponse represents a single audit event
type EventLogResponse struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Username  string    `json:"username"`
	IPAddress string    `json:"ip_address"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toEventLogResponse(entry *models.EventLogEntry) EventLogResponse {
	return EventLogResponse{
		ID:        entry.ID,
		EventType: entry.EventType,
		Username:  entry.Username,
		IPAddress: entry.IPAddress,
		Details:   entry.Details,
		CreatedAt: entry.CreatedAt,
	}
}

// List returns audit events, newest first. Optional filters:
// event_type and ip_address (mutually exclusive, event_type wins).
// @Summary List audit events
// @Produce json
// @Param event_type query string false "Filter by event type"
// @Param ip_address query string false "Filter by IP address"
// @Success 200 {array} EventLogResponse
// @Router /admin/logs [get]
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	var (
		entries []*models.EventLogEntry
		err     error
	)
	switch {
	case r.URL.Query().Get("event_type") != "":
		entries, err = h.auditService.ListByEventType(r.Context(), r.URL.Query().Get("event_type"), limit, offset)
	case r.URL.Query().Get("ip_address") != "":
		entries, err = h.auditService.ListByIPAddress(r.Context(), r.URL.Query().Get("ip_address"), limit, offset)
	default:
		entries, err = h.auditService.ListRecent(r.Context(), limit, offset)
	}
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list audit events")
		return
	}

	resp := make([]EventLogResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, toEventLogResponse(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

// pageParams reads limit/offset query parameters. Services clamp the
// values, so out-of-range input degrades to defaults instead of erroring.
func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
