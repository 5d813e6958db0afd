package auth

import "time"

// Role is the fixed set of account roles.
type Role string

const (
	RoleUser   Role = "user"
	RoleWallet Role = "wallet"
	RoleAdmin  Role = "admin"
)

// Valid reports whether the role belongs to the known enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleWallet, RoleAdmin:
		return true
	}
	return false
}

// Account is the persisted identity record. Email and WalletAddress are each
// globally unique; the directory enforces that.
type Account struct {
	ID             string
	Email          string
	PasswordHash   string
	Role           Role
	WalletAddress  string
	WalletVerified bool
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenPair carries freshly issued access and refresh tokens.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Identity is derived per request from validated token claims. It is never
// persisted and is discarded when the request ends.
type Identity struct {
	UserID        string
	Role          Role
	WalletAddress string
	TokenID       string
	ExpiresAt     time.Time
}
