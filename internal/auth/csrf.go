package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// CSRFResult classifies a token check. Missing and Mismatch are treated as
// hostile; Expired is a stale-but-honest client that gets a fresh token.
type CSRFResult int

const (
	CSRFValid CSRFResult = iota
	CSRFMissing
	CSRFMismatch
	CSRFExpired
)

func (r CSRFResult) String() string {
	switch r {
	case CSRFValid:
		return "valid"
	case CSRFMissing:
		return "missing"
	case CSRFMismatch:
		return "mismatch"
	case CSRFExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// GenerateCSRFToken returns a fresh 256-bit token as lowercase hex.
func GenerateCSRFToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// ValidateCSRFToken compares a submitted token against the session's stored
// token. Comparison happens before the expiry check so that forged tokens
// are always reported as mismatches, never as expirations.
func ValidateCSRFToken(stored, submitted string, issuedAt, now time.Time, timeout time.Duration) CSRFResult {
	if submitted == "" || stored == "" {
		return CSRFMissing
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) != 1 {
		return CSRFMismatch
	}

	if now.Sub(issuedAt) > timeout {
		return CSRFExpired
	}

	return CSRFValid
}
