package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
)

type loginAttemptsRepo struct {
	db DBTX
}

const recordLoginAttempt = `-- name: RecordLoginAttempt
INSERT INTO login_attempts (id, email, ip_address, user_agent, succeeded, failure_reason, attempted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (r *loginAttemptsRepo) RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error {
	_, err := r.db.Exec(ctx, recordLoginAttempt,
		a.ID, a.Email, a.IPAddress, a.UserAgent, a.Succeeded, a.FailureReason, a.AttemptedAt)
	return mapError(err)
}

const listFailedLoginAttempts = `-- name: ListFailedLoginAttemptsSince
SELECT id, email, ip_address, user_agent, succeeded, failure_reason, attempted_at
FROM login_attempts
WHERE email = $1 AND NOT succeeded AND attempted_at > $2
ORDER BY attempted_at DESC
`

func (r *loginAttemptsRepo) ListFailedLoginAttemptsSince(
	ctx context.Context,
	email string,
	since time.Time,
) ([]domain.LoginAttempt, error) {
	rows, _ := r.db.Query(ctx, listFailedLoginAttempts, email, since)
	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LoginAttempt, error) {
		var a domain.LoginAttempt
		err := row.Scan(&a.ID, &a.Email, &a.IPAddress, &a.UserAgent, &a.Succeeded, &a.FailureReason, &a.AttemptedAt)
		a.AttemptedAt = a.AttemptedAt.UTC()
		return a, err
	})
	if err != nil {
		return nil, mapError(err)
	}
	return attempts, nil
}

func (r *loginAttemptsRepo) DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
