package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
)

type usersRepo struct {
	db DBTX
}

const selectUser = `
SELECT id, email, password_hash, role, permissions, totp_secret, created_at, updated_at
FROM users
`

func rowToUser(row pgx.CollectableRow) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Permissions, &u.TOTPSecret, &u.CreatedAt, &u.UpdatedAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if len(u.Permissions) == 0 {
		u.Permissions = nil
	}
	return u, err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	rows, _ := r.db.Query(ctx, selectUser+`WHERE id = $1`, id)
	u, err := pgx.CollectOneRow(rows, rowToUser)
	return u, mapError(err)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	rows, _ := r.db.Query(ctx, selectUser+`WHERE email = $1`, email)
	u, err := pgx.CollectOneRow(rows, rowToUser)
	return u, mapError(err)
}

const createUser = `-- name: CreateUser
INSERT INTO users (id, email, password_hash, role, permissions, totp_secret, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	permissions := u.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	_, err := r.db.Exec(ctx, createUser,
		u.ID, u.Email, u.PasswordHash, u.Role, permissions, u.TOTPSecret, u.CreatedAt, u.UpdatedAt)
	return mapError(err)
}

func (r *usersRepo) SetTOTPSecret(ctx context.Context, userID string, secret *string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET totp_secret = $2, updated_at = $3 WHERE id = $1`, userID, secret, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users)`).Scan(&exists)
	return !exists, mapError(err)
}
