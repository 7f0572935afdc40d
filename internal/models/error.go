package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Policy rejections. These are expected outcomes of the authentication
	// state machine, not faults.
	ErrCSRFInvalid        = errors.New("invalid or expired csrf token")
	ErrIPBanned           = errors.New("ip address is banned")
	ErrIPRateLimited      = errors.New("too many attempts from this ip")
	ErrAccountLocked      = errors.New("too many attempts for this account")
	ErrRestrictedUsername = errors.New("username is restricted")
	ErrValidation         = errors.New("input validation failed")
	ErrInviteInvalid      = errors.New("invitation code is invalid")
	ErrInviteExpired      = errors.New("invitation code has expired")
	ErrInviteExhausted    = errors.New("invitation code has reached its usage limit")
)
