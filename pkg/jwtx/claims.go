package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultLeeway tolerates clock skew between issuer and validator.
	DefaultLeeway = 10 * time.Second
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "ACCESS"
	TokenTypeRefresh = "REFRESH"
)

// Claims are the access-token claims shared by every service that trusts
// this issuer.
type Claims struct {
	jwt.RegisteredClaims

	TokenType   string   `json:"token_type"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// NewAccessClaims builds ACCESS claims valid for ttl from now. Timestamps
// are truncated to whole seconds, the precision of the wire format.
func NewAccessClaims(subject, issuer, role string, permissions []string, ttl time.Duration, now time.Time) Claims {
	now = now.UTC().Truncate(time.Second)
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TokenType:   TokenTypeAccess,
		Role:        role,
		Permissions: permissions,
	}
}

func NewJTI() string {
	return uuid.NewString()
}

// ValidateRequired checks that sub, iss, exp and token_type are present.
func (c *Claims) ValidateRequired() error {
	switch {
	case c.Subject == "":
		return missingClaim("sub")
	case c.Issuer == "":
		return missingClaim("iss")
	case c.ExpiresAt == nil:
		return missingClaim("exp")
	case c.TokenType == "":
		return missingClaim("token_type")
	}
	return nil
}

// ValidateIssuer requires an exact match.
func (c *Claims) ValidateIssuer(expected string) error {
	if c.Issuer != expected {
		return ErrIssuerMismatch
	}
	return nil
}

// ValidateExpiry requires exp to be strictly after now-leeway.
func (c *Claims) ValidateExpiry(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil || !c.ExpiresAt.After(now.Add(-leeway)) {
		return ErrExpired
	}
	return nil
}

// Remaining reports how long the token stays valid after now, never negative.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return max(c.ExpiresAt.Sub(now), 0)
}

// normalize puts decoded timestamps in UTC so decoded claims compare equal
// to the ones that were issued.
func (c *Claims) normalize() {
	for _, d := range []**jwt.NumericDate{&c.ExpiresAt, &c.IssuedAt, &c.NotBefore} {
		if *d != nil {
			*d = jwt.NewNumericDate((*d).UTC())
		}
	}
}
