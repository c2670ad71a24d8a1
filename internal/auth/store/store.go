package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned when a conditional update matched no row,
	// e.g. a refresh token that another request rotated first.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. Sub-repositories are exposed as methods so a Tx-scoped
// Store hands out repositories bound to the same transaction.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	LoginAttempts() LoginAttempts

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. Nested transactions are not supported.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail expects the email in domain.NormalizeEmail form.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user. A duplicate email yields ErrAlreadyExists.
	CreateUser(ctx context.Context, u domain.User) error

	// SetTOTPSecret stores (or clears, with nil) the TOTP secret.
	SetTOTPSecret(ctx context.Context, userID string, secret *string, at time.Time) error

	// IsEmpty returns true if there are no users.
	IsEmpty(ctx context.Context) (bool, error)
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new, active refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the record for a token fingerprint,
	// whatever its state.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RotateRefreshToken moves an active token to ROTATED, pointing at
	// newHash. It returns ErrConflict when the token is no longer active.
	RotateRefreshToken(ctx context.Context, oldHash, newHash string, at time.Time) error

	// RevokeRefreshToken moves an active token to REVOKED. Tokens already
	// rotated or revoked are left untouched.
	RevokeRefreshToken(ctx context.Context, hash string, at time.Time) error

	// RevokeAllUserRefreshTokens revokes every active token of the user and
	// returns how many were changed.
	RevokeAllUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error)

	// DeleteExpiredRefreshTokens removes records that expired before the
	// given time.
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

type LoginAttempts interface {
	// RecordLoginAttempt appends an attempt to the log.
	RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error

	// ListFailedLoginAttemptsSince returns the failed attempts for email made
	// after since, newest first.
	ListFailedLoginAttemptsSince(ctx context.Context, email string, since time.Time) ([]domain.LoginAttempt, error)

	// DeleteLoginAttemptsBefore is retention housekeeping.
	DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error)
}
