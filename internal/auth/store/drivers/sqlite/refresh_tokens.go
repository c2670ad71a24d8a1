package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, created_at, origin_ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.TokenHash,
		t.UserID,
		formatTime(t.ExpiresAt),
		formatTime(t.CreatedAt),
		t.OriginIP,
		t.UserAgent,
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t                    domain.RefreshToken
		expiresAt, createdAt string
		revokedAt            sql.NullString
		replacedBy           sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token_hash, user_id, expires_at, created_at, revoked, revoked_at, replaced_by, origin_ip, user_agent
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(&t.ID, &t.TokenHash, &t.UserID, &expiresAt, &createdAt, &t.Revoked, &revokedAt, &replacedBy, &t.OriginIP, &t.UserAgent)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return domain.RefreshToken{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.RefreshToken{}, err
	}
	if t.RevokedAt, err = mapNullTimePtr(revokedAt); err != nil {
		return domain.RefreshToken{}, err
	}
	t.ReplacedBy = mapNullString(replacedBy)
	return t, nil
}

func (r *refreshTokensRepo) RotateRefreshToken(ctx context.Context, oldHash, newHash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, revoked_at = ?, replaced_by = ?
		WHERE token_hash = ? AND revoked = 0`,
		formatTime(at), mapStringNull(newHash), oldHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE token_hash = ? AND revoked = 0`,
		formatTime(at), hash)
	return err
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE user_id = ? AND revoked = 0`,
		formatTime(at), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
