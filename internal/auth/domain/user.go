package domain

import (
	"strings"
	"time"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string // argon2id PHC string
	Role         string
	Permissions  []string
	TOTPSecret   *string // base32, nil when the second factor is off
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the identity tokens are issued for.
type Principal struct {
	ID          string
	Role        string
	Permissions []string
}

func (u User) Principal() Principal {
	return Principal{ID: u.ID, Role: u.Role, Permissions: u.Permissions}
}

func (u User) HasTOTP() bool {
	return u.TOTPSecret != nil && *u.TOTPSecret != ""
}

// NormalizeEmail is the canonical form used for lookups and lockout keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
