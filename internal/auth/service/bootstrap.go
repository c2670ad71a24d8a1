package service

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// AdminRole and AdminPermissions are given to the bootstrap account.
const AdminRole = "admin"

var AdminPermissions = []string{"*"}

type BootstrapService struct {
	Users *UserService
}

func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Users.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// EnsureAdmin creates the first account when the user table is empty. It
// does nothing once any user exists or when no credentials are configured.
func (s *BootstrapService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	l := slogx.FromContext(ctx)

	if email == "" || password == "" {
		return false, nil
	}
	if bootstrapped, err := s.IsBootstrapped(ctx); err != nil || bootstrapped {
		return false, err
	}

	u, err := s.Users.CreateUser(ctx, NewUser{
		Email:       email,
		Password:    password,
		Role:        AdminRole,
		Permissions: AdminPermissions,
	})
	if err != nil {
		l.Error("failed to create admin user", slog.Any("error", err))
		return false, err
	}

	l.Info("bootstrapped admin user", slog.String("admin_user_id", u.ID))
	return true, nil
}
