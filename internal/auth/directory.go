package auth

import "context"

// Directory is the account record store. Implementations enforce global
// uniqueness of email and wallet address: Create returns ErrConflict when
// either collides, lookups return ErrNotFound for absent records.
type Directory interface {
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByWallet(ctx context.Context, address string) (*Account, error)
	Create(ctx context.Context, account *Account) error
	// Update rewrites the mutable fields (email, role, wallet address,
	// wallet_verified, active) of an existing record.
	Update(ctx context.Context, account *Account) error
	// UpdatePassword replaces only the stored password hash. Keeping this
	// separate from Update is what guarantees an ordinary record update can
	// never re-hash or clobber the credential.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	List(ctx context.Context) ([]*Account, error)
}
