package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserRole controls access to the admin surface. The full back-office role
// split of the original platform (risk/finance/ops/readonly) collapses to a
// single admin role here — there is no tiered back-office in this domain,
// only a player/admin split.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// IsAdmin returns true only for the admin role.
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin
}

// User is the domain entity for registered accounts. Its wallet balance is
// not embedded here — see Wallet in wallet.go, reachable only through the
// ledger.
type User struct {
	ID           uuid.UUID `json:"id"         db:"id"`
	Email        string    `json:"email"      db:"email"`
	Username     string    `json:"username"   db:"username"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	Role         UserRole  `json:"role"       db:"role"`
	IsActive     bool      `json:"is_active"  db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// PublicProfile is a user view safe to expose via API (no password hash).
type PublicProfile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      UserRole  `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ToPublicProfile converts a User to its public-safe representation.
func (u *User) ToPublicProfile() PublicProfile {
	return PublicProfile{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}
