package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

func TestLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair := f.login(t)
	require.Equal(t, domain.TokenTypeBearer, pair.TokenType)
	require.Equal(t, jwtx.DefaultAccessTokenTTL, pair.ExpiresIn)
	require.Equal(t, f.clock.Now().Add(jwtx.DefaultRefreshTokenTTL), pair.RefreshExpiresAt)
	require.Equal(t, domain.RefreshActive, f.refreshState(t, pair.RefreshToken))

	claims, err := f.validator.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, f.user.ID, claims.Subject)
	require.Equal(t, "member", claims.Role)
	require.Equal(t, []string{"orders:read"}, claims.Permissions)

	rt, err := f.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, testOrigin.IP, rt.OriginIP)
	require.Equal(t, testOrigin.UserAgent, rt.UserAgent)
}

func TestLogin_FailuresAreGeneric(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []LoginRequest{
		{Email: "alice@example.com", Password: "wrong password!"},
		{Email: "nobody@example.com", Password: testPassword},
	} {
		_, err := f.tokens.Login(ctx, req)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	attempts, err := f.store.LoginAttempts().ListFailedLoginAttemptsSince(ctx, "alice@example.com", f.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, domain.FailureBadPassword, attempts[0].FailureReason)

	attempts, err = f.store.LoginAttempts().ListFailedLoginAttemptsSince(ctx, "nobody@example.com", f.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, domain.FailureUnknownEmail, attempts[0].FailureReason)
}

func TestLogin_Lockout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	policy := domain.DefaultLockoutPolicy

	for range policy.Threshold {
		_, err := f.tokens.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "nope nope nope"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
		f.clock.Advance(time.Second)
	}

	// Correct password is refused while locked.
	_, err := f.tokens.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword})
	require.ErrorIs(t, err, ErrAccountLocked)

	f.clock.Advance(policy.Window)
	f.login(t)
}

func TestLogin_TOTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	mfa := &MFAService{Store: f.store, Issuer: "Gatekeeper", Clock: f.clock}
	enrollment, err := mfa.EnrollTOTP(ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", enrollment.Account)
	require.Contains(t, enrollment.URL, "otpauth://totp/")

	_, err = mfa.EnrollTOTP(ctx, f.user.ID)
	require.ErrorIs(t, err, ErrMFAAlreadyEnabled)

	req := LoginRequest{Email: "alice@example.com", Password: testPassword}
	_, err = f.tokens.Login(ctx, req)
	require.ErrorIs(t, err, ErrInvalidCredentials, "code is required once enrolled")

	req.OTP = currentCode(t, enrollment.Secret, f.clock.Now())
	_, err = f.tokens.Login(ctx, req)
	require.NoError(t, err)
}

func TestRefresh_Rotates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first := f.login(t)
	f.clock.Advance(time.Minute)

	second, err := f.tokens.Refresh(ctx, first.RefreshToken, testOrigin)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	old, err := f.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(first.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, domain.RefreshRotated, old.State())
	require.Equal(t, cryptox.FingerprintToken(second.RefreshToken), old.ReplacedBy)
	require.Equal(t, domain.RefreshActive, f.refreshState(t, second.RefreshToken))

	_, err = f.validator.Validate(ctx, second.AccessToken)
	require.NoError(t, err)
}

func TestRefresh_ReuseRevokesAllSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first := f.login(t)
	other := f.login(t) // a second device
	second, err := f.tokens.Refresh(ctx, first.RefreshToken, testOrigin)
	require.NoError(t, err)

	pair, err := f.tokens.Refresh(ctx, first.RefreshToken, testOrigin)
	require.ErrorIs(t, err, ErrTokenReuseDetected)
	require.Nil(t, pair)

	require.Equal(t, domain.RefreshRevoked, f.refreshState(t, second.RefreshToken))
	require.Equal(t, domain.RefreshRevoked, f.refreshState(t, other.RefreshToken))
	require.Equal(t, domain.RefreshRotated, f.refreshState(t, first.RefreshToken), "terminal states never change")

	_, err = f.tokens.Refresh(ctx, second.RefreshToken, testOrigin)
	require.ErrorIs(t, err, ErrTokenReuseDetected)

	// Access tokens already handed out stay valid until they expire.
	_, err = f.validator.Validate(ctx, second.AccessToken)
	require.NoError(t, err)
}

func TestRefresh_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tokens.Refresh(ctx, "never-issued", testOrigin)
	require.ErrorIs(t, err, ErrInvalidToken)

	pair := f.login(t)
	f.clock.Advance(jwtx.DefaultRefreshTokenTTL)
	_, err = f.tokens.Refresh(ctx, pair.RefreshToken, testOrigin)
	require.ErrorIs(t, err, ErrExpiredToken)
	require.Equal(t, domain.RefreshActive, f.refreshState(t, pair.RefreshToken))

	logout := f.login(t)
	require.NoError(t, f.tokens.Logout(ctx, logout.RefreshToken, ""))
	_, err = f.tokens.Refresh(ctx, logout.RefreshToken, testOrigin)
	require.ErrorIs(t, err, ErrTokenReuseDetected)
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	const racers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*domain.TokenPair
		reused  int
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := f.tokens.Refresh(ctx, pair.RefreshToken, testOrigin)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, next)
			case errors.Is(err, ErrTokenReuseDetected):
				reused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, racers-1, reused)
	require.Equal(t, domain.RefreshRotated, f.refreshState(t, pair.RefreshToken))
	// The losers' reuse signal also ends the winner's session.
	require.Equal(t, domain.RefreshRevoked, f.refreshState(t, winners[0].RefreshToken))
}

func TestLogout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	require.NoError(t, f.tokens.Logout(ctx, pair.RefreshToken, pair.AccessToken))
	require.NoError(t, f.tokens.Logout(ctx, pair.RefreshToken, pair.AccessToken), "logout is idempotent")
	require.NoError(t, f.tokens.Logout(ctx, "unknown", "not-a-jwt"))

	require.Equal(t, domain.RefreshRevoked, f.refreshState(t, pair.RefreshToken))
	_, err := f.validator.Validate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrRevokedToken)

	// The blacklist entry lives exactly as long as the token would have.
	f.clock.Advance(jwtx.DefaultAccessTokenTTL)
	require.Equal(t, 1, f.revoked.Sweep())
}

// End to end: login, validate, refresh, old refresh rejected as reuse, new
// access token valid until its own expiry.
func TestTokenLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pair := f.login(t)
	_, err := f.validator.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	next, err := f.tokens.Refresh(ctx, pair.RefreshToken, testOrigin)
	require.NoError(t, err)

	_, err = f.tokens.Refresh(ctx, pair.RefreshToken, testOrigin)
	require.ErrorIs(t, err, ErrTokenReuseDetected)

	_, err = f.validator.Validate(ctx, next.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(jwtx.DefaultAccessTokenTTL - time.Second)
	_, err = f.validator.Validate(ctx, next.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(jwtx.DefaultLeeway + time.Second)
	_, err = f.validator.Validate(ctx, next.AccessToken)
	require.ErrorIs(t, err, ErrExpiredToken)
}
