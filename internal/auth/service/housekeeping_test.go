package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

func TestHousekeeping_RunOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair := f.login(t)
	_, err := f.tokens.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong wrong wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.NoError(t, f.tokens.Logout(ctx, "", pair.AccessToken))

	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Capacity: 1, Rate: 1, Window: time.Minute}, f.clock, 1)
	for _, k := range []string{"a", "b"} {
		_, _ = limiter.TryAcquire(ctx, k)
	}

	hk := NewHousekeepingService(f.store, slogx.Discard(), time.Minute)
	hk.Clock = f.clock
	hk.Sweepers = []Sweeper{f.revoked}
	hk.Limiters = []ratelimit.Maintainer{limiter}

	// Nothing is old enough yet, except the oversized limiter map.
	report := hk.RunOnce(ctx)
	require.Equal(t, CleanupReport{LimitersReset: 1}, report)

	f.clock.Advance(jwtx.DefaultRefreshTokenTTL + hk.RefreshRetention + time.Second)
	report = hk.RunOnce(ctx)
	require.EqualValues(t, 1, report.RefreshTokens)
	require.Zero(t, report.LoginAttempts)
	require.Equal(t, 1, report.RevokedEntries)

	f.clock.Advance(hk.AttemptRetention)
	report = hk.RunOnce(ctx)
	require.EqualValues(t, 2, report.LoginAttempts, "one failure and one success")
	require.Zero(t, report.Failures)
}

func TestHousekeeping_EmptyStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	hk := NewHousekeepingService(f.store, slogx.Discard(), 0)
	require.Equal(t, DefaultHousekeepingInterval, hk.Interval)
	require.Equal(t, CleanupReport{}, hk.RunOnce(context.Background()))

	hk.Interval = 10 * time.Millisecond
	hk.Clock = clock.System
	hk.Start()
	hk.Stop()
}

func TestLoginGuard(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for range domain.DefaultLockoutPolicy.Threshold - 1 {
		require.NoError(t, f.guard.RecordAttempt(ctx, domain.LoginAttempt{Email: "Bob@Example.com", FailureReason: domain.FailureBadPassword}))
	}
	locked, err := f.guard.IsLocked(ctx, "bob@example.com")
	require.NoError(t, err)
	require.False(t, locked)

	require.NoError(t, f.guard.RecordAttempt(ctx, domain.LoginAttempt{Email: "bob@example.com", Succeeded: true}))
	require.NoError(t, f.guard.RecordAttempt(ctx, domain.LoginAttempt{Email: "bob@example.com", FailureReason: domain.FailureBadPassword}))

	locked, err = f.guard.IsLocked(ctx, "BOB@example.com")
	require.NoError(t, err)
	require.True(t, locked, "a success in between does not reset the count")

	f.clock.Advance(domain.DefaultLockoutPolicy.Window)
	locked, err = f.guard.IsLocked(ctx, "bob@example.com")
	require.NoError(t, err)
	require.False(t, locked)

	disabled := NewLoginGuard(f.store, domain.LockoutPolicy{}, f.clock)
	locked, err = disabled.IsLocked(ctx, "bob@example.com")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestBootstrap_EnsureAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	b := &BootstrapService{Users: &UserService{Store: s, Passwords: cryptox.PasswordHasher{}}}

	created, err := b.EnsureAdmin(ctx, "", "")
	require.NoError(t, err)
	require.False(t, created, "no credentials configured")

	created, err = b.EnsureAdmin(ctx, "Root@Example.com", "a long admin password")
	require.NoError(t, err)
	require.True(t, created)

	u, err := s.Users().GetUserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	require.Equal(t, AdminRole, u.Role)
	require.Equal(t, AdminPermissions, u.Permissions)

	created, err = b.EnsureAdmin(ctx, "other@example.com", "a long admin password")
	require.NoError(t, err)
	require.False(t, created, "runs once")
}

func TestCreateUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.CreateUser(ctx, NewUser{Email: "ALICE@example.com", Password: "another long password"})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.users.CreateUser(ctx, NewUser{Email: "carol@example.com", Password: "short"})
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = f.users.CreateUser(ctx, NewUser{Email: "carol", Password: "another long password"})
	require.Error(t, err)

	got, err := f.users.GetUserByID(ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got.Email)
	require.NoError(t, f.users.Passwords.Verify(testPassword, got.PasswordHash))
}
