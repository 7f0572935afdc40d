package models

import "time"

// InviteStatus is the outcome of validating an invitation code.
type InviteStatus int

const (
	InviteValid InviteStatus = iota
	InviteNotFound
	InviteExpired
	InviteExhausted
)

func (s InviteStatus) String() string {
	switch s {
	case InviteValid:
		return "valid"
	case InviteNotFound:
		return "not_found"
	case InviteExpired:
		return "expired"
	case InviteExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// InvitationCode gates registration. A code is usable iff
// now < ExpirationDate && UsageCount < MaxUses. Codes are stored lowercase
// and matched case-insensitively.
type InvitationCode struct {
	ID             string
	Code           string
	ExpirationDate time.Time
	UsageCount     int
	MaxUses        int
	CreatedAt      time.Time
}

// Status evaluates the code against the usability invariant.
func (c *InvitationCode) Status(now time.Time) InviteStatus {
	if c == nil {
		return InviteNotFound
	}
	if !now.Before(c.ExpirationDate) {
		return InviteExpired
	}
	if c.UsageCount >= c.MaxUses {
		return InviteExhausted
	}
	return InviteValid
}
