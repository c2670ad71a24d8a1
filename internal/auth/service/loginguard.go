package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/idx"
)

// LoginGuard keeps the login audit log and derives lockout from it.
type LoginGuard struct {
	Store  store.Store
	Policy domain.LockoutPolicy
	Clock  clock.Clock
}

func NewLoginGuard(s store.Store, policy domain.LockoutPolicy, clk clock.Clock) *LoginGuard {
	return &LoginGuard{Store: s, Policy: policy, Clock: clock.Or(clk)}
}

// RecordAttempt appends a to the log. ID and AttemptedAt are filled in
// when empty. The error is only ever a storage failure.
func (g *LoginGuard) RecordAttempt(ctx context.Context, a domain.LoginAttempt) error {
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = g.now()
	}
	if a.ID == "" {
		a.ID = idx.NewAt(a.AttemptedAt).String()
	}
	a.Email = domain.NormalizeEmail(a.Email)

	if err := g.Store.LoginAttempts().RecordLoginAttempt(ctx, a); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// IsLocked reports whether email has reached the failure threshold inside
// the trailing window.
func (g *LoginGuard) IsLocked(ctx context.Context, email string) (bool, error) {
	if g.Policy.Threshold <= 0 {
		return false, nil
	}
	now := g.now()

	attempts, err := g.Store.LoginAttempts().ListFailedLoginAttemptsSince(
		ctx, domain.NormalizeEmail(email), g.Policy.WindowStart(now))
	if err != nil {
		return false, fmt.Errorf("list login attempts: %w", err)
	}
	return domain.IsLocked(attempts, g.Policy, now), nil
}

func (g *LoginGuard) now() time.Time {
	return clock.Or(g.Clock).Now()
}
