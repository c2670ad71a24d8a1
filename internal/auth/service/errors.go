package service

import (
	"errors"

	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

// Error taxonomy. Handlers map these to status codes; none of them reach a
// response body in a way that tells the caller which check failed.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountLocked      = errors.New("account_locked")
	ErrInvalidToken       = errors.New("invalid_token")
	ErrExpiredToken       = errors.New("expired_token")
	ErrTokenReuseDetected = errors.New("token_reuse_detected")
	ErrRevokedToken       = errors.New("revoked_token")

	// ErrRateLimited names the 429 outcome. The rate-limit gates in front
	// of the handlers answer it themselves, so no service returns it.
	ErrRateLimited = errors.New("rate_limited")

	// ErrKeyUnavailable is the key cache's sentinel, propagated as is so
	// callers can tell infrastructure failure from bad credentials.
	ErrKeyUnavailable = jwtx.ErrKeyUnavailable

	// ErrRevocationUnavailable is returned only when revocation reads are
	// configured to fail closed.
	ErrRevocationUnavailable = errors.New("revocation_unavailable")
)

// IsUnavailable reports whether err is a transient infrastructure failure
// (503) rather than an authentication failure (401).
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrKeyUnavailable) || errors.Is(err, ErrRevocationUnavailable)
}
