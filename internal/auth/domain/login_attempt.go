package domain

import "time"

// Failure reasons recorded with unsuccessful attempts. They never leave the
// service; responses stay generic.
const (
	FailureUnknownEmail  = "unknown_email"
	FailureBadPassword   = "bad_password"
	FailureBadOTP        = "bad_otp"
	FailureAccountLocked = "account_locked"
)

// LoginAttempt is one row of the append-only login audit log.
type LoginAttempt struct {
	ID            string
	Email         string
	IPAddress     string
	UserAgent     string
	Succeeded     bool
	FailureReason string
	AttemptedAt   time.Time
}

type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

var DefaultLockoutPolicy = LockoutPolicy{Threshold: 5, Window: 15 * time.Minute}

// WindowStart is the earliest attempt time that still counts at now.
func (p LockoutPolicy) WindowStart(now time.Time) time.Time {
	return now.Add(-p.Window)
}

// IsLocked reports whether the failed attempts inside the trailing window
// ending at now reach the policy threshold. Successful attempts are not
// subtracted; old failures simply age out of the window.
func IsLocked(attempts []LoginAttempt, policy LockoutPolicy, now time.Time) bool {
	if policy.Threshold <= 0 {
		return false
	}
	start := policy.WindowStart(now)

	failures := 0
	for _, a := range attempts {
		if a.Succeeded || !a.AttemptedAt.After(start) || a.AttemptedAt.After(now) {
			continue
		}
		failures++
		if failures >= policy.Threshold {
			return true
		}
	}
	return false
}
