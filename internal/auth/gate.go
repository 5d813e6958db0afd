package auth

import (
	"context"
	"errors"
	"fmt"
)

// Gate is an authorization predicate evaluated against a validated identity.
// Gates compose left-to-right with Chain; the first failure wins.
type Gate func(ctx context.Context, identity Identity) error

// Chain applies gates in order, short-circuiting on the first failure.
func Chain(gates ...Gate) Gate {
	return func(ctx context.Context, identity Identity) error {
		for _, gate := range gates {
			if err := gate(ctx, identity); err != nil {
				return err
			}
		}
		return nil
	}
}

// RequireRole passes when the identity's role is one of the allowed roles.
func RequireRole(allowed ...Role) Gate {
	return func(ctx context.Context, identity Identity) error {
		for _, role := range allowed {
			if identity.Role == role {
				return nil
			}
		}
		return fmt.Errorf("%w: role %q not permitted", ErrForbidden, identity.Role)
	}
}

// RequireWallet passes when the identity has a wallet address on file.
func RequireWallet() Gate {
	return func(ctx context.Context, identity Identity) error {
		if identity.WalletAddress == "" {
			return fmt.Errorf("%w: wallet address required", ErrForbidden)
		}
		return nil
	}
}

// RequireVerifiedWallet passes when the identity carries a wallet address AND
// a fresh directory lookup confirms it is verified. The token is not trusted
// for verification state, since that can change after issuance.
func RequireVerifiedWallet(directory Directory) Gate {
	wallet := RequireWallet()
	return func(ctx context.Context, identity Identity) error {
		if err := wallet(ctx, identity); err != nil {
			return err
		}
		account, err := directory.Find(ctx, identity.UserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: unknown subject", ErrUnauthorized)
			}
			return err
		}
		if !account.WalletVerified {
			return fmt.Errorf("%w: wallet not verified", ErrForbidden)
		}
		return nil
	}
}
