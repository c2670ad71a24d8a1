package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/instrumentation"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

func currentCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totpOpts)
	require.NoError(t, err)
	return code
}

type brokenRevocations struct{}

func (brokenRevocations) Revoke(context.Context, string, time.Duration) error {
	return errors.New("redis: connection refused")
}

func (brokenRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type noKeys struct{}

func (noKeys) GetKey(context.Context) (*jwtx.SigningKey, error) {
	return nil, jwtx.ErrKeyUnavailable
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := f.validator.Validate(ctx, "not.a.token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("tampered", func(t *testing.T) {
		b := []byte(pair.AccessToken)
		b[len(b)/2] ^= 1
		_, err := f.validator.Validate(ctx, string(b))
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("refresh typed token", func(t *testing.T) {
		claims := jwtx.NewAccessClaims(f.user.ID, testIssuer, "", nil, time.Minute, f.clock.Now())
		claims.TokenType = jwtx.TokenTypeRefresh
		token, err := f.tokens.Codec.Issue(claims, jwtx.Symmetric(testSecret))
		require.NoError(t, err)

		_, err = f.validator.Validate(ctx, token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		other := jwtx.NewCodec("https://elsewhere.test", f.clock)
		claims := jwtx.NewAccessClaims(f.user.ID, "https://elsewhere.test", "", nil, time.Minute, f.clock.Now())
		token, err := other.Issue(claims, jwtx.Symmetric(testSecret))
		require.NoError(t, err)

		_, err = f.validator.Validate(ctx, token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestValidate_KeyUnavailableIsNotAuthFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pair := f.login(t)

	v := *f.validator
	v.Keys = noKeys{}
	_, err := v.Validate(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrKeyUnavailable)
	require.True(t, IsUnavailable(err))
	require.False(t, errors.Is(err, ErrInvalidToken))
}

func TestValidate_RevocationOutage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pair := f.login(t)
	ctx := context.Background()

	open := *f.validator
	open.Revocations = brokenRevocations{}
	claims, err := open.Validate(ctx, pair.AccessToken)
	require.NoError(t, err, "default policy admits when the blacklist is unreadable")
	require.Equal(t, f.user.ID, claims.Subject)

	closed := open
	closed.FailClosed = true
	_, err = closed.Validate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrRevocationUnavailable)
	require.True(t, IsUnavailable(err))
}

func TestValidate_NilMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pair := f.login(t)

	v := *f.validator
	v.Metrics = nil
	_, err := v.Validate(context.Background(), pair.AccessToken)
	require.NoError(t, err)

	v.Metrics = instrumentation.Noop().Metrics()
	_, err = v.Validate(context.Background(), "x")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTOTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mfa := &MFAService{Store: f.store, Issuer: "gatekeeper", Clock: f.clock}

	enrollment, err := mfa.EnrollTOTP(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Contains(t, enrollment.URL, "otpauth://totp/")

	now := f.clock.Now()
	require.True(t, VerifyTOTP(enrollment.Secret, currentCode(t, enrollment.Secret, now), now))
	require.True(t, VerifyTOTP(enrollment.Secret, currentCode(t, enrollment.Secret, now.Add(-30*time.Second)), now), "one period of skew")
	require.False(t, VerifyTOTP(enrollment.Secret, currentCode(t, enrollment.Secret, now.Add(-5*time.Minute)), now))
	require.False(t, VerifyTOTP(enrollment.Secret, "", now))

	_, err = mfa.EnrollTOTP(context.Background(), f.user.ID)
	require.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}
