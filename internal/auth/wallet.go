package auth

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// personalMessageHash applies the eth_sign / personal_sign prefix scheme and
// returns the keccak256 digest wallets actually sign.
func personalMessageHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverWalletAddress recovers the signer address from a personal-sign
// signature over message. The signature is the usual 65-byte hex blob; both
// the 27/28 and 0/1 recovery-id conventions are accepted.
func RecoverWalletAddress(message, signature string) (string, error) {
	sigHex := strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("%w: signature is not hex", ErrSignatureMismatch)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("%w: signature must be 65 bytes", ErrSignatureMismatch)
	}
	if sig[64] >= 27 {
		sig = append(append([]byte(nil), sig[:64]...), sig[64]-27)
	}
	pub, err := crypto.SigToPub(personalMessageHash(message), sig)
	if err != nil {
		return "", fmt.Errorf("%w: recovery failed", ErrSignatureMismatch)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// VerifyWalletSignature recovers the signer of message and checks it matches
// the claimed address, case-insensitively. The recovered address is returned
// in canonical lower-cased form.
func VerifyWalletSignature(message, signature, claimedAddress string) (string, error) {
	claimed, err := NormalizeWalletAddress(claimedAddress)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	recovered, err := RecoverWalletAddress(message, signature)
	if err != nil {
		return "", err
	}
	if recovered != claimed {
		return "", fmt.Errorf("%w: recovered %s, claimed %s", ErrSignatureMismatch, recovered, claimed)
	}
	return recovered, nil
}

// syntheticWalletEmail derives the unique placeholder email for accounts that
// were created through wallet sign-in and never set a real address.
func syntheticWalletEmail(address string) string {
	return strings.ToLower(address) + "@wallet.authgate.org"
}
