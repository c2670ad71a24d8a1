package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

type refreshTokensRepo struct {
	db DBTX
}

const createRefreshToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, created_at, origin_ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.Exec(ctx, createRefreshToken,
		t.ID, t.TokenHash, t.UserID, t.ExpiresAt, t.CreatedAt, t.OriginIP, t.UserAgent)
	return mapError(err)
}

const getRefreshTokenByHash = `-- name: GetRefreshTokenByHash
SELECT id, token_hash, user_id, expires_at, created_at, revoked, revoked_at, COALESCE(replaced_by, ''), origin_ip, user_agent
FROM refresh_tokens
WHERE token_hash = $1
`

// GetRefreshTokenByHash returns the record in any state, expired included.
func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	rows, _ := r.db.Query(ctx, getRefreshTokenByHash, hash)
	t, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (domain.RefreshToken, error) {
		var t domain.RefreshToken
		err := row.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.CreatedAt,
			&t.Revoked, &t.RevokedAt, &t.ReplacedBy, &t.OriginIP, &t.UserAgent)
		return t, err
	})
	if err != nil {
		return domain.RefreshToken{}, mapError(err)
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.RevokedAt = utcPtr(t.RevokedAt)
	return t, nil
}

const rotateRefreshToken = `-- name: RotateRefreshToken only if still active
UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $3, replaced_by = $2
WHERE token_hash = $1 AND NOT revoked
`

// RotateRefreshToken relies on the row lock taken by UPDATE: a concurrent
// rotation blocks, re-checks the predicate after the winner commits and
// matches nothing.
func (r *refreshTokensRepo) RotateRefreshToken(ctx context.Context, oldHash, newHash string, at time.Time) error {
	tag, err := r.db.Exec(ctx, rotateRefreshToken, oldHash, newHash, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token_hash = $1 AND NOT revoked`,
		hash, at)
	return mapError(err)
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND NOT revoked`,
		userID, at)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
