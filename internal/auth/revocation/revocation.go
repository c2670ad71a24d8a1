// Package revocation is the access-token blacklist. Entries are keyed by
// token fingerprint and live only as long as the token they revoke would
// have, so the set stays bounded without a separate cleanup contract.
package revocation

import (
	"context"
	"time"
)

// Store records revoked tokens. Absence from the store means "not known to
// be revoked", never "valid".
type Store interface {
	// Revoke blacklists token for ttl. A non-positive ttl is a no-op
	// since the token has already expired.
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}
