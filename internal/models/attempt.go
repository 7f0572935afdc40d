package models

import "time"

// AttemptScope selects which ledger a failure is recorded against.
type AttemptScope int

const (
	ScopeIP AttemptScope = iota
	ScopeUsername
)

func (s AttemptScope) String() string {
	switch s {
	case ScopeIP:
		return "ip"
	case ScopeUsername:
		return "username"
	default:
		return "unknown"
	}
}

// Attempt is one per-second failure bucket for an identity (IP or lowercase
// username). Concurrent failures in the same second collapse into one row
// via an atomic count increment.
type Attempt struct {
	Identity     string
	AttemptTime  time.Time
	AttemptCount int
}
