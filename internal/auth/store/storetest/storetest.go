// Package storetest holds the behaviour every store driver must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/idx"
)

// Factory returns a migrated, empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

var now = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// Run executes the driver conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("refresh token lifecycle", func(t *testing.T) { testRefreshLifecycle(t, newStore(t)) })
	t.Run("revoke all", func(t *testing.T) { testRevokeAll(t, newStore(t)) })
	t.Run("concurrent rotation", func(t *testing.T) { testConcurrentRotation(t, newStore(t)) })
	t.Run("tx rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("login attempts", func(t *testing.T) { testLoginAttempts(t, newStore(t)) })
}

// CreateUser inserts a user with the given email and returns it.
func CreateUser(t *testing.T, s store.Store, email string) domain.User {
	t.Helper()
	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		Role:         "member",
		Permissions:  []string{"orders:read", "orders:write"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func newRefresh(userID string) (string, domain.RefreshToken) {
	raw, _ := cryptox.GenerateToken(cryptox.TokenSize256)
	return raw, domain.RefreshToken{
		ID:        idx.New().String(),
		TokenHash: cryptox.FingerprintToken(raw),
		UserID:    userID,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		CreatedAt: now,
		OriginIP:  "203.0.113.7",
		UserAgent: "storetest",
	}
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	empty, err := s.Users().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	u := CreateUser(t, s, "alice@example.com")

	empty, err = s.Users().IsEmpty(ctx)
	require.NoError(t, err)
	require.False(t, empty)

	got, err := s.Users().GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, u.Permissions, got.Permissions)
	require.Nil(t, got.TOTPSecret)
	require.True(t, u.CreatedAt.Equal(got.CreatedAt))

	_, err = s.Users().GetUserByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	dup := u
	dup.ID = idx.New().String()
	require.ErrorIs(t, s.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)

	secret := "JBSWY3DPEHPK3PXP"
	require.NoError(t, s.Users().SetTOTPSecret(ctx, u.ID, &secret, now.Add(time.Minute)))
	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.HasTOTP())
	require.True(t, got.UpdatedAt.Equal(now.Add(time.Minute)))

	require.ErrorIs(t, s.Users().SetTOTPSecret(ctx, "missing", nil, now), store.ErrNotFound)
}

func testRefreshLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := CreateUser(t, s, "bob@example.com")

	_, first := newRefresh(u.ID)
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, first))
	require.ErrorIs(t, s.RefreshTokens().CreateRefreshToken(ctx, first), store.ErrAlreadyExists)

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, first.TokenHash)
	require.NoError(t, err)
	require.Equal(t, domain.RefreshActive, got.State())
	require.Nil(t, got.RevokedAt)
	require.True(t, first.ExpiresAt.Equal(got.ExpiresAt))
	require.Equal(t, "203.0.113.7", got.OriginIP)

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, second := newRefresh(u.ID)
	err = s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RotateRefreshToken(ctx, first.TokenHash, second.TokenHash, now); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, second)
	})
	require.NoError(t, err)

	got, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, first.TokenHash)
	require.NoError(t, err)
	require.Equal(t, domain.RefreshRotated, got.State())
	require.Equal(t, second.TokenHash, got.ReplacedBy)
	require.NotNil(t, got.RevokedAt)

	// A rotated token can be neither rotated again nor downgraded to revoked.
	require.ErrorIs(t, s.RefreshTokens().RotateRefreshToken(ctx, first.TokenHash, "x", now), store.ErrConflict)
	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, first.TokenHash, now))
	got, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, first.TokenHash)
	require.NoError(t, err)
	require.Equal(t, domain.RefreshRotated, got.State())

	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, second.TokenHash, now))
	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, second.TokenHash, now), "revoke is idempotent")
	got, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, second.TokenHash)
	require.NoError(t, err)
	require.Equal(t, domain.RefreshRevoked, got.State())
	require.Empty(t, got.ReplacedBy)

	require.ErrorIs(t, s.RefreshTokens().RotateRefreshToken(ctx, "unknown", "x", now), store.ErrConflict)

	n, err := s.RefreshTokens().DeleteExpiredRefreshTokens(ctx, first.ExpiresAt)
	require.NoError(t, err)
	require.Zero(t, n, "expiry boundary is exclusive")

	n, err = s.RefreshTokens().DeleteExpiredRefreshTokens(ctx, first.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func testRevokeAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := CreateUser(t, s, "carol@example.com")
	other := CreateUser(t, s, "dave@example.com")

	var hashes []string
	for range 3 {
		_, rt := newRefresh(u.ID)
		require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, rt))
		hashes = append(hashes, rt.TokenHash)
	}
	_, foreign := newRefresh(other.ID)
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, foreign))

	n, err := s.RefreshTokens().RevokeAllUserRefreshTokens(ctx, u.ID, now)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	for _, h := range hashes {
		got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, h)
		require.NoError(t, err)
		require.Equal(t, domain.RefreshRevoked, got.State())
	}

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, foreign.TokenHash)
	require.NoError(t, err)
	require.Equal(t, domain.RefreshActive, got.State())

	n, err = s.RefreshTokens().RevokeAllUserRefreshTokens(ctx, u.ID, now)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testConcurrentRotation(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := CreateUser(t, s, "erin@example.com")
	_, rt := newRefresh(u.ID)
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, rt))

	const racers = 8
	var (
		wins, conflicts atomic.Int32
		wg              sync.WaitGroup
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, next := newRefresh(u.ID)
			err := s.WithTx(ctx, func(tx store.Tx) error {
				if err := tx.RefreshTokens().RotateRefreshToken(ctx, rt.TokenHash, next.TokenHash, now); err != nil {
					return err
				}
				return tx.RefreshTokens().CreateRefreshToken(ctx, next)
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, racers-1, conflicts.Load())
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := CreateUser(t, s, "frank@example.com")
	_, rt := newRefresh(u.ID)
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, rt))

	_, dup := newRefresh(u.ID)
	dup.TokenHash = rt.TokenHash
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RotateRefreshToken(ctx, rt.TokenHash, dup.TokenHash, now); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, dup)
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, rt.TokenHash)
	require.NoError(t, err)
	require.Equal(t, domain.RefreshActive, got.State(), "failed rotation must roll back")
}

func testLoginAttempts(t *testing.T, s store.Store) {
	ctx := context.Background()
	record := func(email string, ok bool, at time.Time) {
		t.Helper()
		a := domain.LoginAttempt{
			ID:          idx.New().String(),
			Email:       email,
			IPAddress:   "198.51.100.1",
			Succeeded:   ok,
			AttemptedAt: at,
		}
		if !ok {
			a.FailureReason = domain.FailureBadPassword
		}
		require.NoError(t, s.LoginAttempts().RecordLoginAttempt(ctx, a))
	}

	record("gina@example.com", false, now.Add(-20*time.Minute))
	record("gina@example.com", false, now.Add(-10*time.Minute))
	record("gina@example.com", true, now.Add(-5*time.Minute))
	record("gina@example.com", false, now.Add(-time.Minute))
	record("hank@example.com", false, now.Add(-time.Minute))

	got, err := s.LoginAttempts().ListFailedLoginAttemptsSince(ctx, "gina@example.com", now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].AttemptedAt.After(got[1].AttemptedAt), "newest first")
	for _, a := range got {
		require.False(t, a.Succeeded)
		require.Equal(t, domain.FailureBadPassword, a.FailureReason)
	}

	n, err := s.LoginAttempts().DeleteLoginAttemptsBefore(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
