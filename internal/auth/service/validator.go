package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/instrumentation"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/revocation"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// KeyProvider is satisfied by *jwtx.KeyCache.
type KeyProvider interface {
	GetKey(ctx context.Context) (*jwtx.SigningKey, error)
}

// TokenValidator answers whether an access token is usable right now.
type TokenValidator struct {
	Codec       *jwtx.Codec
	Keys        KeyProvider
	Revocations revocation.Store

	// FailClosed rejects tokens with ErrRevocationUnavailable when the
	// revocation store cannot be read. The default admits them and logs.
	FailClosed bool

	Metrics *instrumentation.Metrics
}

// Validate checks signature, issuer, expiry, token type and the blacklist,
// in that order. ErrKeyUnavailable is returned unwrapped-compatible so
// callers can answer 503.
func (v *TokenValidator) Validate(ctx context.Context, token string) (jwtx.Claims, error) {
	key, err := v.Keys.GetKey(ctx)
	if err != nil {
		v.Metrics.RecordValidationFailure(ctx, "key_unavailable")
		if errors.Is(err, jwtx.ErrKeyUnavailable) {
			return jwtx.Claims{}, err
		}
		return jwtx.Claims{}, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}

	claims, err := v.Codec.Decode(token, key.Scheme)
	switch {
	case err == nil:
	case errors.Is(err, jwtx.ErrExpired):
		v.Metrics.RecordValidationFailure(ctx, "expired")
		return jwtx.Claims{}, ErrExpiredToken
	default:
		v.Metrics.RecordValidationFailure(ctx, "invalid")
		return jwtx.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.TokenType != jwtx.TokenTypeAccess {
		v.Metrics.RecordValidationFailure(ctx, "wrong_type")
		return jwtx.Claims{}, ErrInvalidToken
	}

	revoked, err := v.Revocations.IsRevoked(ctx, token)
	if err != nil {
		if v.FailClosed {
			v.Metrics.RecordValidationFailure(ctx, "revocation_unavailable")
			return jwtx.Claims{}, fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
		}
		slogx.FromContext(ctx).Warn("revocation check failed, admitting token",
			slog.String("sub", claims.Subject),
			slog.Any("err", err),
		)
		v.Metrics.RecordFailOpen(ctx, "revocation")
		return claims, nil
	}
	if revoked {
		v.Metrics.RecordValidationFailure(ctx, "revoked")
		return jwtx.Claims{}, ErrRevokedToken
	}
	return claims, nil
}
