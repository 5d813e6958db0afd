package auth

import "errors"

// Taxonomy sentinels. Handlers translate these to HTTP status codes at the
// boundary; internal detail wrapped around them is logged, never returned.
var (
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrForbidden     = errors.New("auth: forbidden")
	ErrNotFound      = errors.New("auth: not found")
	ErrConflict      = errors.New("auth: already exists")
	ErrUnavailable   = errors.New("auth: backing store unavailable")
	ErrMisconfigured = errors.New("auth: misconfigured")
)

// Token validation failures. All of them are unauthorized-class but stay
// distinct so callers and tests can tell a stale token from a forged one.
var (
	ErrTokenMalformed    = errors.New("auth: malformed token")
	ErrTokenExpired      = errors.New("auth: token expired")
	ErrTokenRevoked      = errors.New("auth: token revoked")
	ErrSignatureMismatch = errors.New("auth: signature mismatch")
)
