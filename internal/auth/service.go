package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAccessTTL    = 15 * time.Minute
	defaultRefreshTTL   = 24 * time.Hour * 14
	defaultStoreTimeout = 3 * time.Second
	retryBackoff        = 100 * time.Millisecond
)

// Service ties the credential verifiers, the token lifecycle and the two
// backing stores together. It keeps no per-request state: everything flows
// through the directory and the revocation store, so a revocation or a
// deactivation is visible on the very next validated request.
type Service struct {
	directory  Directory
	revocation RevocationStore

	issuer    *Issuer
	validator *Validator

	issuerName   string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	bcryptCost   int
	storeTimeout time.Duration
	now          func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuerName overrides the token issuer claim.
func WithIssuerName(name string) ServiceOption {
	return func(s *Service) error {
		s.issuerName = strings.TrimSpace(name)
		return nil
	}
}

// WithBcryptCost tunes the password hashing work factor.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost > 0 {
			s.bcryptCost = cost
		}
		return nil
	}
}

// WithStoreTimeout bounds every directory and revocation-store call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.storeTimeout = d
		}
		return nil
	}
}

// NewService constructs the auth core. An unusable signing secret fails here
// with ErrMisconfigured rather than at first use.
func NewService(directory Directory, revocation RevocationStore, signingSecret string, opts ...ServiceOption) (*Service, error) {
	if directory == nil || revocation == nil {
		return nil, fmt.Errorf("%w: directory and revocation store are required", ErrMisconfigured)
	}
	s := &Service{
		directory:    directory,
		revocation:   revocation,
		issuerName:   "authgate",
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	issuer, err := NewIssuer(signingSecret, s.issuerName, s.accessTTL, s.refreshTTL, func() time.Time { return s.now() })
	if err != nil {
		return nil, err
	}
	validator, err := NewValidator(signingSecret, s.issuerName, revocation, func() time.Time { return s.now() })
	if err != nil {
		return nil, err
	}
	s.issuer = issuer
	s.validator = validator
	return s, nil
}

// CreateAccount registers a password account. The plaintext is hashed here,
// on the explicit set; nothing downstream ever re-hashes it.
func (s *Service) CreateAccount(ctx context.Context, email, password string, role Role) (*Account, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	account := &Account{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.directory.Create(ctx, account)
	}); err != nil {
		return nil, err
	}
	return account, nil
}

// SetPassword replaces the account's credential. This is the only mutation
// path that hashes: callers pass plaintext exactly when the password is being
// changed, so there is no dirty-tracking and no risk of hashing a hash.
func (s *Service) SetPassword(ctx context.Context, userID, newPassword string) error {
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	return s.storeCall(ctx, func(ctx context.Context) error {
		return s.directory.UpdatePassword(ctx, userID, hash)
	})
}

// PasswordLogin verifies email/password credentials and issues a token pair.
// Every failure mode maps to ErrUnauthorized so responses cannot be used to
// enumerate accounts.
func (s *Service) PasswordLogin(ctx context.Context, email, password string) (TokenPair, *Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, fmt.Errorf("%w: missing credentials", ErrUnauthorized)
	}
	var account *Account
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.directory.FindByEmail(ctx, email)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, fmt.Errorf("%w: unknown account", ErrUnauthorized)
		}
		return TokenPair{}, nil, err
	}
	if !account.Active {
		return TokenPair{}, nil, fmt.Errorf("%w: account deactivated", ErrUnauthorized)
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: bad credentials", ErrUnauthorized)
	}
	pair, err := s.issuer.Issue(account)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, account, nil
}

// WalletLogin verifies an Ethereum personal-sign signature, resolves or
// creates the backing account and issues a token pair.
func (s *Service) WalletLogin(ctx context.Context, address, message, signature string) (TokenPair, *Account, error) {
	recovered, err := VerifyWalletSignature(message, signature, address)
	if err != nil {
		return TokenPair{}, nil, err
	}
	account, err := s.findOrCreateAccountForWallet(ctx, recovered)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if !account.Active {
		return TokenPair{}, nil, fmt.Errorf("%w: account deactivated", ErrUnauthorized)
	}
	// A fresh signature over the challenge proves key control, so an account
	// whose wallet was merely on file becomes verified here.
	if !account.WalletVerified {
		account.WalletVerified = true
		if err := s.storeCall(ctx, func(ctx context.Context) error {
			return s.directory.Update(ctx, account)
		}); err != nil {
			return TokenPair{}, nil, err
		}
	}
	pair, err := s.issuer.Issue(account)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, account, nil
}

// findOrCreateAccountForWallet resolves the account owning the address. The
// directory's unique constraint is the arbiter of concurrent first sign-ins:
// the create is optimistic and a conflict falls back to a re-fetch, so N
// racing logins converge on one record without any application lock.
func (s *Service) findOrCreateAccountForWallet(ctx context.Context, address string) (*Account, error) {
	var account *Account
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.directory.FindByWallet(ctx, address)
		return err
	})
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sentinel, err := unusablePassword()
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(sentinel, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	fresh := &Account{
		Email:          syntheticWalletEmail(address),
		PasswordHash:   hash,
		Role:           RoleWallet,
		WalletAddress:  address,
		WalletVerified: true,
		Active:         true,
	}
	err = s.storeCall(ctx, func(ctx context.Context) error {
		return s.directory.Create(ctx, fresh)
	})
	if err == nil {
		return fresh, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, err
	}
	// Lost the race; the winner's record is authoritative.
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.directory.FindByWallet(ctx, address)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Refresh rotates a refresh token. The presented token's jti is marked
// revoked before the new pair is returned: a caller can never observe a
// completed rotation that left the old token usable, and a second rotation
// with the same token fails with ErrTokenRevoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.validateRefresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	var account *Account
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.directory.Find(ctx, claims.Subject)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, fmt.Errorf("%w: unknown subject", ErrUnauthorized)
		}
		return TokenPair{}, err
	}
	if !account.Active {
		return TokenPair{}, fmt.Errorf("%w: account deactivated", ErrUnauthorized)
	}

	remaining := claims.ExpiresAt.Sub(s.now())
	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.revocation.Mark(ctx, claims.ID, remaining)
	}); err != nil {
		return TokenPair{}, fmt.Errorf("revoke rotated token: %w", err)
	}

	return s.issuer.Issue(account)
}

func (s *Service) validateRefresh(ctx context.Context, refreshToken string) (*Claims, error) {
	var claims *Claims
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		claims, err = s.validator.ValidateRefresh(ctx, refreshToken)
		return err
	})
	return claims, err
}

// Authenticate validates an access token and confirms the subject account is
// still present and active. A missing account maps to ErrUnauthorized, not
// ErrNotFound, to avoid leaking which subjects exist.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	var claims *Claims
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		claims, err = s.validator.ValidateAccess(ctx, accessToken)
		return err
	})
	if err != nil {
		return Identity{}, err
	}

	var account *Account
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.directory.Find(ctx, claims.Subject)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, fmt.Errorf("%w: unknown subject", ErrUnauthorized)
		}
		return Identity{}, err
	}
	if !account.Active {
		return Identity{}, fmt.Errorf("%w: account deactivated", ErrUnauthorized)
	}
	return IdentityFromClaims(claims), nil
}

// RevokeToken denylists the presented token (access or refresh) for the rest
// of its natural lifetime. Used by logout.
func (s *Service) RevokeToken(ctx context.Context, rawToken string) error {
	claims, err := s.peekClaims(ctx, rawToken)
	if err != nil {
		return err
	}
	remaining := claims.ExpiresAt.Sub(s.now())
	return s.storeCall(ctx, func(ctx context.Context) error {
		return s.revocation.Mark(ctx, claims.ID, remaining)
	})
}

func (s *Service) peekClaims(ctx context.Context, rawToken string) (*Claims, error) {
	claims, err := s.validator.ValidateAccess(ctx, rawToken)
	if err == nil {
		return claims, nil
	}
	if claims, refreshErr := s.validator.ValidateRefresh(ctx, rawToken); refreshErr == nil {
		return claims, nil
	}
	return nil, err
}

// Directory exposes the account store for gates that need a fresh lookup.
func (s *Service) Directory() Directory { return s.directory }

// Deactivate flips the account inactive. Existing tokens stop working on the
// next validated request because Authenticate re-reads account state.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	return s.setActive(ctx, userID, false)
}

// Reactivate flips the account back to active.
func (s *Service) Reactivate(ctx context.Context, userID string) error {
	return s.setActive(ctx, userID, true)
}

func (s *Service) setActive(ctx context.Context, userID string, active bool) error {
	var account *Account
	if err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.directory.Find(ctx, userID)
		return err
	}); err != nil {
		return err
	}
	account.Active = active
	return s.storeCall(ctx, func(ctx context.Context) error {
		return s.directory.Update(ctx, account)
	})
}

// storeCall bounds a store operation with the configured timeout and retries
// a transient unavailability once. Authentication failures are caller-input
// errors and are never retried.
func (s *Service) storeCall(ctx context.Context, fn func(ctx context.Context) error) error {
	run := func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		err := fn(callCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	err := run()
	if err == nil || !errors.Is(err, ErrUnavailable) {
		return err
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case <-time.After(retryBackoff):
	}
	return run()
}
