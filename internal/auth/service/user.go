package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/idx"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrWeakPassword = errors.New("password too short")
)

const MinPasswordLength = 12

type UserService struct {
	Store     store.Store
	Passwords cryptox.PasswordHasher
	Clock     clock.Clock
}

// NewUser describes an account to create.
type NewUser struct {
	Email       string
	Password    string
	Role        string
	Permissions []string
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// CreateUser hashes the password and stores the account.
func (s *UserService) CreateUser(ctx context.Context, nu NewUser) (domain.User, error) {
	email := domain.NormalizeEmail(nu.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, fmt.Errorf("invalid email %q", nu.Email)
	}
	if len(nu.Password) < MinPasswordLength {
		return domain.User{}, ErrWeakPassword
	}

	hash, err := s.Passwords.Hash(nu.Password)
	if err != nil {
		return domain.User{}, err
	}

	now := clock.Or(s.Clock).Now()
	u := domain.User{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		PasswordHash: hash,
		Role:         nu.Role,
		Permissions:  nu.Permissions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}
	return u, nil
}
