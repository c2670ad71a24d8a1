package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
)

type loginAttemptsRepo struct {
	db dbtx
}

func (r *loginAttemptsRepo) RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (id, email, ip_address, user_agent, succeeded, failure_reason, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.IPAddress, a.UserAgent, a.Succeeded, a.FailureReason, formatTime(a.AttemptedAt))
	return mapConstraint(err)
}

func (r *loginAttemptsRepo) ListFailedLoginAttemptsSince(
	ctx context.Context,
	email string,
	since time.Time,
) ([]domain.LoginAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, ip_address, user_agent, succeeded, failure_reason, attempted_at
		FROM login_attempts
		WHERE email = ? AND succeeded = 0 AND attempted_at > ?
		ORDER BY attempted_at DESC`,
		email, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoginAttempt
	for rows.Next() {
		var (
			a           domain.LoginAttempt
			attemptedAt string
		)
		if err := rows.Scan(&a.ID, &a.Email, &a.IPAddress, &a.UserAgent, &a.Succeeded, &a.FailureReason, &attemptedAt); err != nil {
			return nil, err
		}
		if a.AttemptedAt, err = parseTime(attemptedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *loginAttemptsRepo) DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE attempted_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
