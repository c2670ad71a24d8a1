package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/instrumentation"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/revocation"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/idx"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// LoginRequest carries credentials and where they came from.
type LoginRequest struct {
	Email    string
	Password string
	OTP      string
	Origin   domain.Origin
}

type TokenService struct {
	Store       store.Store
	Codec       *jwtx.Codec
	Signer      Signer
	Passwords   cryptox.PasswordHasher
	Guard       *LoginGuard
	Revocations revocation.Store

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Clock   clock.Clock
	Metrics *instrumentation.Metrics
	Tracer  trace.Tracer

	dummyOnce sync.Once
	dummyHash string
}

// Issue mints an access token and an ACTIVE refresh token for principal.
func (s *TokenService) Issue(ctx context.Context, principal domain.Principal, origin domain.Origin) (*domain.TokenPair, error) {
	now := s.now()

	access, err := s.signAccess(principal, now)
	if err != nil {
		return nil, err
	}

	raw, rt, err := s.newRefreshToken(principal.ID, origin, now)
	if err != nil {
		return nil, err
	}
	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.Metrics.RecordTokensIssued(ctx, "login")
	return s.pair(access, raw, rt), nil
}

// Login checks the lockout gate, then the credentials, records the attempt
// and issues a pair. Every credential failure is ErrInvalidCredentials.
func (s *TokenService) Login(ctx context.Context, req LoginRequest) (*domain.TokenPair, error) {
	ctx, span := s.tracer().Start(ctx, "TokenService.Login")
	defer span.End()

	l := slogx.FromContext(ctx)
	email := domain.NormalizeEmail(req.Email)

	locked, err := s.Guard.IsLocked(ctx, email)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if locked {
		l.Warn("login rejected, account locked", slog.String("ip", req.Origin.IP))
		s.Metrics.RecordLoginFailure(ctx, domain.FailureAccountLocked)
		return nil, ErrAccountLocked
	}

	user, reason, err := s.authenticate(ctx, email, req.Password, req.OTP)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	s.record(ctx, domain.LoginAttempt{
		Email:         email,
		IPAddress:     req.Origin.IP,
		UserAgent:     req.Origin.UserAgent,
		Succeeded:     reason == "",
		FailureReason: reason,
	})

	if reason != "" {
		l.Info("login failed", slog.String("reason", reason), slog.String("ip", req.Origin.IP))
		s.Metrics.RecordLoginFailure(ctx, reason)
		instrumentation.RecordError(span, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	span.SetAttributes(attribute.String(instrumentation.AttrUserID, user.ID))
	pair, err := s.Issue(ctx, user.Principal(), req.Origin)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetOK(span)
	return pair, nil
}

// authenticate returns a failure reason when the credentials are wrong and
// an error only when the store fails.
func (s *TokenService) authenticate(ctx context.Context, email, password, code string) (domain.User, string, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn the same time as a real verification.
		_ = s.Passwords.Verify(password, s.dummy())
		return domain.User{}, domain.FailureUnknownEmail, nil
	}
	if err != nil {
		return domain.User{}, "", fmt.Errorf("load user: %w", err)
	}

	if err := s.Passwords.Verify(password, user.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			slogx.FromContext(ctx).Error("stored password hash unusable", slog.String("user_id", user.ID), slog.Any("err", err))
		}
		return domain.User{}, domain.FailureBadPassword, nil
	}

	if user.HasTOTP() && !VerifyTOTP(*user.TOTPSecret, code, s.now()) {
		return domain.User{}, domain.FailureBadOTP, nil
	}
	return user, "", nil
}

// Refresh rotates raw into a new pair. Presenting a token that is no longer
// ACTIVE revokes every active session of its owner.
func (s *TokenService) Refresh(ctx context.Context, raw string, origin domain.Origin) (*domain.TokenPair, error) {
	ctx, span := s.tracer().Start(ctx, "TokenService.Refresh")
	defer span.End()

	pair, outcome, err := s.refresh(ctx, raw, origin)
	s.Metrics.RecordRefresh(ctx, outcome)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetOK(span)
	return pair, nil
}

func (s *TokenService) refresh(ctx context.Context, raw string, origin domain.Origin) (*domain.TokenPair, string, error) {
	now := s.now()
	fp := cryptox.FingerprintToken(raw)

	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "unknown", ErrInvalidToken
	}
	if err != nil {
		return nil, "error", fmt.Errorf("load refresh token: %w", err)
	}

	if rt.State() != domain.RefreshActive {
		return nil, "reuse", s.reuseDetected(ctx, rt, now)
	}
	if rt.IsExpired(now) {
		return nil, "expired", ErrExpiredToken
	}

	user, err := s.Store.Users().GetUserByID(ctx, rt.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "unknown", ErrInvalidToken
	}
	if err != nil {
		return nil, "error", fmt.Errorf("load user: %w", err)
	}

	access, err := s.signAccess(user.Principal(), now)
	if err != nil {
		return nil, "error", err
	}
	nextRaw, next, err := s.newRefreshToken(user.ID, origin, now)
	if err != nil {
		return nil, "error", err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RotateRefreshToken(ctx, fp, next.TokenHash, now); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, next)
	})
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with another refresh of the same token.
		return nil, "reuse", s.reuseDetected(ctx, rt, now)
	}
	if err != nil {
		return nil, "error", fmt.Errorf("rotate refresh token: %w", err)
	}

	s.Metrics.RecordTokensIssued(ctx, "refresh")
	return s.pair(access, nextRaw, next), "rotated", nil
}

func (s *TokenService) reuseDetected(ctx context.Context, rt domain.RefreshToken, now time.Time) error {
	n, err := s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, rt.UserID, now)
	slogx.FromContext(ctx).Warn("refresh token reuse detected",
		slog.String("user_id", rt.UserID),
		slog.String("token_id", rt.ID),
		slog.String("state", string(rt.State())),
		slog.Int64("revoked", n),
	)
	s.Metrics.RecordTokenReuseDetected(ctx)
	s.Metrics.RecordTokenRevoked(ctx, jwtx.TokenTypeRefresh, n)
	if err != nil {
		return fmt.Errorf("%w: revoke sessions: %w", ErrTokenReuseDetected, err)
	}
	return ErrTokenReuseDetected
}

// Logout revokes the refresh token. Unknown and already terminal tokens are
// a no-op. A non-empty accessToken is blacklisted as well.
func (s *TokenService) Logout(ctx context.Context, raw, accessToken string) error {
	if raw != "" {
		if err := s.Store.RefreshTokens().RevokeRefreshToken(ctx, cryptox.FingerprintToken(raw), s.now()); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		s.Metrics.RecordTokenRevoked(ctx, jwtx.TokenTypeRefresh, 1)
	}
	if accessToken != "" {
		return s.RevokeAccessToken(ctx, accessToken)
	}
	return nil
}

// RevokeAccessToken blacklists token for the rest of its lifetime. Tokens
// that do not verify or have already expired are ignored.
func (s *TokenService) RevokeAccessToken(ctx context.Context, token string) error {
	scheme, err := s.Signer.SigningScheme()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	claims, err := s.Codec.Decode(token, scheme)
	if err != nil {
		return nil
	}

	ttl := claims.Remaining(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.Revocations.Revoke(ctx, token, ttl); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	s.Metrics.RecordTokenRevoked(ctx, jwtx.TokenTypeAccess, 1)
	return nil
}

func (s *TokenService) signAccess(p domain.Principal, now time.Time) (string, error) {
	scheme, err := s.Signer.SigningScheme()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	claims := jwtx.NewAccessClaims(p.ID, s.Codec.Issuer, p.Role, p.Permissions, s.accessTTL(), now)
	return s.Codec.Issue(claims, scheme)
}

func (s *TokenService) newRefreshToken(userID string, origin domain.Origin, now time.Time) (string, domain.RefreshToken, error) {
	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", domain.RefreshToken{}, err
	}
	return raw, domain.RefreshToken{
		ID:        idx.NewAt(now).String(),
		TokenHash: cryptox.FingerprintToken(raw),
		UserID:    userID,
		ExpiresAt: now.Add(s.refreshTTL()),
		CreatedAt: now,
		OriginIP:  origin.IP,
		UserAgent: origin.UserAgent,
	}, nil
}

func (s *TokenService) pair(access, raw string, rt domain.RefreshToken) *domain.TokenPair {
	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		TokenType:        domain.TokenTypeBearer,
		ExpiresIn:        s.accessTTL(),
		RefreshExpiresAt: rt.ExpiresAt,
	}
}

func (s *TokenService) record(ctx context.Context, a domain.LoginAttempt) {
	if err := s.Guard.RecordAttempt(ctx, a); err != nil {
		slogx.FromContext(ctx).Error("failed to record login attempt", slog.Any("err", err))
	}
}

func (s *TokenService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Passwords.Hash("not-a-real-password")
	})
	return s.dummyHash
}

func (s *TokenService) now() time.Time { return clock.Or(s.Clock).Now() }

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return jwtx.DefaultAccessTokenTTL
	}
	return s.AccessTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL <= 0 {
		return jwtx.DefaultRefreshTokenTTL
	}
	return s.RefreshTTL
}

func (s *TokenService) tracer() trace.Tracer {
	if s.Tracer == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return s.Tracer
}
