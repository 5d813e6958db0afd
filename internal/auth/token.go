package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	minSecretLength = 32
)

// Claims is the signed payload embedded in every bearer token.
type Claims struct {
	Role          string `json:"role"`
	WalletAddress string `json:"wallet_address,omitempty"`
	TokenType     string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer mints signed access/refresh token pairs with HS256.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer constructs an Issuer. A missing or short signing secret is a
// deployment mistake and fails loudly instead of degrading to a weak default.
func NewIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration, now func() time.Time) (*Issuer, error) {
	if len(strings.TrimSpace(secret)) < minSecretLength {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrMisconfigured, minSecretLength)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token TTLs must be positive", ErrMisconfigured)
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// Issue mints a fresh access/refresh pair for the account. Each token carries
// its own unguessable jti so they can be revoked independently.
func (i *Issuer) Issue(account *Account) (TokenPair, error) {
	now := i.now().UTC()

	access, accessExp, err := i.sign(account, tokenTypeAccess, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(account, tokenTypeRefresh, now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(account *Account, tokenType string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Role:          string(account.Role),
		WalletAddress: account.WalletAddress,
		TokenType:     tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validator verifies presented tokens: signature first, then expiry, then the
// revocation lookup. The ordering keeps the cheap structural checks in front
// of the store round-trip.
type Validator struct {
	secret     []byte
	issuer     string
	revocation RevocationStore
	now        func() time.Time
}

// NewValidator constructs a Validator sharing the Issuer's secret.
func NewValidator(secret, issuer string, revocation RevocationStore, now func() time.Time) (*Validator, error) {
	if len(strings.TrimSpace(secret)) < minSecretLength {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrMisconfigured, minSecretLength)
	}
	if revocation == nil {
		return nil, fmt.Errorf("%w: revocation store is required", ErrMisconfigured)
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{
		secret:     []byte(secret),
		issuer:     issuer,
		revocation: revocation,
		now:        now,
	}, nil
}

// ValidateAccess verifies an access token and returns its claims.
func (v *Validator) ValidateAccess(ctx context.Context, token string) (*Claims, error) {
	return v.validate(ctx, token, tokenTypeAccess)
}

// ValidateRefresh verifies a refresh token and returns its claims.
func (v *Validator) ValidateRefresh(ctx context.Context, token string) (*Claims, error) {
	return v.validate(ctx, token, tokenTypeRefresh)
}

func (v *Validator) validate(ctx context.Context, token, wantType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, jwt.ErrTokenSignatureInvalid)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, fmt.Errorf("%w: parse failed", ErrTokenMalformed)
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenMalformed)
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("%w: unexpected token type", ErrTokenMalformed)
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return nil, fmt.Errorf("%w: missing subject or jti", ErrTokenMalformed)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, fmt.Errorf("%w: expiry precedes issued-at", ErrTokenMalformed)
	}

	// Revocation goes last: it is the only check that costs a store call.
	marked, err := v.revocation.IsMarked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: revocation lookup: %v", ErrUnavailable, err)
	}
	if marked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// IdentityFromClaims derives the request-scoped identity from verified claims.
func IdentityFromClaims(claims *Claims) Identity {
	return Identity{
		UserID:        claims.Subject,
		Role:          Role(claims.Role),
		WalletAddress: claims.WalletAddress,
		TokenID:       claims.ID,
		ExpiresAt:     claims.ExpiresAt.Time,
	}
}
