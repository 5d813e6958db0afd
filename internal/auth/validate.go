package auth

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// NormalizeEmail lower-cases and trims an email and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !emailPattern.MatchString(email) {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}

// NormalizeWalletAddress validates the 0x-prefixed 40-hex-digit form and
// returns the lower-cased address. Addresses compare case-insensitively, so
// the lower-cased form is the canonical one everywhere in this package.
func NormalizeWalletAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !walletPattern.MatchString(address) {
		return "", fmt.Errorf("%w: wallet address must be 0x-prefixed 40 hex digits", ErrInvalidInput)
	}
	return strings.ToLower(address), nil
}

// ParseRole maps a string onto the role enumeration.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}
