package models

import "time"

// RateLimitResult is the outcome of a pre-attempt rate limit check.
type RateLimitResult int

const (
	RateLimitOK RateLimitResult = iota
	RateLimitExceeded
	RateLimitBanned
)

func (r RateLimitResult) String() string {
	switch r {
	case RateLimitOK:
		return "ok"
	case RateLimitExceeded:
		return "exceeded"
	case RateLimitBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// BannedIP is a time-boxed hard denial for one IP. The ban is active while
// now < BanStart + BanDuration; there is no manual unban, only decay.
type BannedIP struct {
	IPAddress   string
	BanStart    time.Time
	BanDuration time.Duration
}

// Active reports whether the ban is still in force at the given instant.
func (b *BannedIP) Active(now time.Time) bool {
	return b != nil && now.Before(b.BanStart.Add(b.BanDuration))
}
