package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/instrumentation"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/revocation"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

const (
	testIssuer   = "https://auth.test"
	testPassword = "correct horse battery staple"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	testOrigin = domain.Origin{IP: "192.0.2.10", UserAgent: "service-test"}
)

type fixture struct {
	store     store.Store
	clock     *clock.Fake
	revoked   *revocation.MemoryStore
	tokens    *TokenService
	validator *TokenValidator
	users     *UserService
	guard     *LoginGuard
	user      domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	clk := clock.NewFake(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	codec := jwtx.NewCodec(testIssuer, clk)
	scheme := jwtx.Symmetric(testSecret)
	revoked := revocation.NewMemoryStore(clk)
	hasher := cryptox.PasswordHasher{Pepper: "test-pepper"}
	guard := NewLoginGuard(s, domain.DefaultLockoutPolicy, clk)
	metrics := instrumentation.Noop().Metrics()

	f := &fixture{
		store:   s,
		clock:   clk,
		revoked: revoked,
		guard:   guard,
		users:   &UserService{Store: s, Passwords: hasher, Clock: clk},
		tokens: &TokenService{
			Store:       s,
			Codec:       codec,
			Signer:      StaticSigner(scheme),
			Passwords:   hasher,
			Guard:       guard,
			Revocations: revoked,
			Clock:       clk,
			Metrics:     metrics,
		},
		validator: &TokenValidator{
			Codec:       codec,
			Keys:        jwtx.NewKeyCache(jwtx.KeyCacheOptions{Source: jwtx.StaticKeySource(scheme), Clock: clk}),
			Revocations: revoked,
			Metrics:     metrics,
		},
	}

	f.user, err = f.users.CreateUser(context.Background(), NewUser{
		Email:       "Alice@Example.com",
		Password:    testPassword,
		Role:        "member",
		Permissions: []string{"orders:read"},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) login(t *testing.T) *domain.TokenPair {
	t.Helper()
	pair, err := f.tokens.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: testPassword,
		Origin:   testOrigin,
	})
	require.NoError(t, err)
	return pair
}

func (f *fixture) refreshState(t *testing.T, raw string) domain.RefreshState {
	t.Helper()
	rt, err := f.store.RefreshTokens().GetRefreshTokenByHash(context.Background(), cryptox.FingerprintToken(raw))
	require.NoError(t, err)
	return rt.State()
}
