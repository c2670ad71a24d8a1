package domain

import "time"

const TokenTypeBearer = "Bearer"

// TokenPair is what login and refresh hand back to the caller.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        time.Duration // access token lifetime
	RefreshExpiresAt time.Time
}

// RefreshState is derived from the revoked/replaced_by columns; it is not
// stored separately.
type RefreshState string

const (
	RefreshActive  RefreshState = "ACTIVE"
	RefreshRotated RefreshState = "ROTATED"
	RefreshRevoked RefreshState = "REVOKED"
)

// Origin is where a token request came from.
type Origin struct {
	IP        string
	UserAgent string
}

// RefreshToken is the persisted record of an opaque refresh token. Only the
// fingerprint of the token is stored.
type RefreshToken struct {
	ID         string
	TokenHash  string
	UserID     string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	ReplacedBy string // fingerprint of the successor; set only by rotation
	OriginIP   string
	UserAgent  string
}

func (t RefreshToken) State() RefreshState {
	switch {
	case !t.Revoked:
		return RefreshActive
	case t.ReplacedBy != "":
		return RefreshRotated
	default:
		return RefreshRevoked
	}
}

// IsExpired reports whether the token is past its expiry at now.
func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
