package models

import "time"

// Event types for the security event log
const (
	EventLoginSuccess    = "login_success"
	EventLoginFailure    = "login_failure"
	EventRegisterSuccess = "register_success"
	EventRegisterFailure = "register_failure"
	EventInviteGenerated = "invite_code_generated"
	EventInviteExpired   = "invite_code_expired"
	EventInviteFailure   = "invite_code_failure"
	EventBanApplied      = "ban_applied"
	EventLogout          = "logout"
)

// UnknownUsername marks log entries where no username was established yet
// (e.g. a CSRF rejection before the form was parsed). An explicit marker
// keeps log semantics unambiguous instead of overloading NULL.
const UnknownUsername = "unknown"

// EventLogEntry is one row of the append-only security audit trail. The
// request path only ever inserts; retention cleanup is the sole deleter.
type EventLogEntry struct {
	ID        string
	EventType string
	Username  string
	IPAddress string
	Details   string
	CreatedAt time.Time
}
