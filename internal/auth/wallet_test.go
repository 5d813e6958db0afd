package auth

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func signMessage(t *testing.T, message string) (address, signature string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(personalMessageHash(message), key)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), "0x" + hex.EncodeToString(sig)
}

func TestVerifyWalletSignatureRoundTrip(t *testing.T) {
	address, signature := signMessage(t, "login-nonce-7")

	recovered, err := VerifyWalletSignature("login-nonce-7", signature, address)
	require.NoError(t, err)
	require.Equal(t, strings.ToLower(address), recovered)
}

func TestVerifyWalletSignatureCaseInsensitiveAddress(t *testing.T) {
	address, signature := signMessage(t, "nonce")

	_, err := VerifyWalletSignature("nonce", signature, strings.ToUpper(address[2:]))
	// The claimed address lost its 0x prefix above, so it must be rejected as
	// input; with the prefix intact any casing is accepted.
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = VerifyWalletSignature("nonce", signature, "0x"+strings.ToUpper(address[2:]))
	require.NoError(t, err)
}

func TestVerifyWalletSignatureLegacyRecoveryID(t *testing.T) {
	address, signature := signMessage(t, "nonce")

	// Wallets emit V as 27/28; crypto.Sign emits 0/1. Both must verify.
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	require.NoError(t, err)
	raw[64] += 27
	legacy := "0x" + hex.EncodeToString(raw)

	_, err = VerifyWalletSignature("nonce", legacy, address)
	require.NoError(t, err)
}

func TestVerifyWalletSignatureRejectsAlteredMessage(t *testing.T) {
	address, signature := signMessage(t, "nonce")

	_, err := VerifyWalletSignature("other-nonce", signature, address)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyWalletSignatureRejectsAlteredSignature(t *testing.T) {
	address, signature := signMessage(t, "nonce")

	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	require.NoError(t, err)
	raw[10] ^= 0xff
	tampered := "0x" + hex.EncodeToString(raw)

	_, err = VerifyWalletSignature("nonce", tampered, address)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyWalletSignatureRejectsForeignAddress(t *testing.T) {
	_, signature := signMessage(t, "nonce")
	other, _ := signMessage(t, "nonce")

	_, err := VerifyWalletSignature("nonce", signature, other)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyWalletSignatureRejectsGarbage(t *testing.T) {
	address, _ := signMessage(t, "nonce")

	_, err := VerifyWalletSignature("nonce", "0xzz", address)
	require.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = VerifyWalletSignature("nonce", "0xdead", address)
	require.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = VerifyWalletSignature("", "0xdead", address)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestNormalizeWalletAddress(t *testing.T) {
	got, err := NormalizeWalletAddress("0xAbCd000000000000000000000000000000001234")
	require.NoError(t, err)
	require.Equal(t, "0xabcd000000000000000000000000000000001234", got)

	_, err = NormalizeWalletAddress("abcd000000000000000000000000000000001234")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NormalizeWalletAddress("0x1234")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSyntheticWalletEmailIsValidAndUnique(t *testing.T) {
	email := syntheticWalletEmail("0xABCD000000000000000000000000000000001234")
	normalized, err := NormalizeEmail(email)
	require.NoError(t, err)
	require.Equal(t, "0xabcd000000000000000000000000000000001234@wallet.authgate.org", normalized)
}
