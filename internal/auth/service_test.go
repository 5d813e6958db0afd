package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryDirectory, *MemoryRevocationStore) {
	t.Helper()
	directory := NewMemoryDirectory()
	revocation := NewMemoryRevocationStore()
	opts = append([]ServiceOption{WithBcryptCost(bcrypt.MinCost)}, opts...)
	service, err := NewService(directory, revocation, testSecret, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service, directory, revocation
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(NewMemoryDirectory(), NewMemoryRevocationStore(), "")
	if !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestPasswordLoginRoundTrip(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	account, err := service.CreateAccount(ctx, "alice@example.com", "s3cret-passw0rd", RoleUser)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if account.PasswordHash == "s3cret-passw0rd" {
		t.Fatal("plaintext must never be stored")
	}

	pair, got, err := service.PasswordLogin(ctx, "alice@example.com", "s3cret-passw0rd")
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}
	if got.ID != account.ID {
		t.Fatalf("unexpected account: %s", got.ID)
	}

	identity, err := service.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.UserID != account.ID {
		t.Fatalf("token round trip lost the subject: %s", identity.UserID)
	}

	if _, _, err := service.PasswordLogin(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := service.PasswordLogin(ctx, "nobody@example.com", "s3cret-passw0rd"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown account must map to ErrUnauthorized, got %v", err)
	}
}

func TestCreateAccountEnforcesEmailUniqueness(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateAccount(ctx, "dup@example.com", "pw-one", RoleUser); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := service.CreateAccount(ctx, "dup@example.com", "pw-two", RoleUser); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSetPasswordOnlyTouchesTheHash(t *testing.T) {
	service, directory, _ := newTestService(t)
	ctx := context.Background()

	account, err := service.CreateAccount(ctx, "bob@example.com", "old-password", RoleUser)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	oldHash := account.PasswordHash

	// A plain record update never re-hashes: the stored credential survives.
	account.Role = RoleAdmin
	if err := directory.Update(ctx, account); err != nil {
		t.Fatalf("Update: %v", err)
	}
	stored, err := directory.Find(ctx, account.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.PasswordHash != oldHash {
		t.Fatal("record update must not touch the password hash")
	}

	if err := service.SetPassword(ctx, account.ID, "new-password"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if _, _, err := service.PasswordLogin(ctx, "bob@example.com", "old-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := service.PasswordLogin(ctx, "bob@example.com", "new-password"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func walletCredentials(t *testing.T, message string) (address, signature string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sig, err := crypto.Sign(personalMessageHash(message), key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), "0x" + hex.EncodeToString(sig)
}

func TestWalletLoginCreatesAccountOnFirstSignIn(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	address, signature := walletCredentials(t, "login-nonce-7")

	pair, account, err := service.WalletLogin(ctx, address, "login-nonce-7", signature)
	if err != nil {
		t.Fatalf("WalletLogin: %v", err)
	}
	if account.Role != RoleWallet {
		t.Fatalf("expected wallet role, got %s", account.Role)
	}
	if !account.WalletVerified || !account.Active {
		t.Fatalf("fresh wallet account must be active and verified: %+v", account)
	}
	if account.WalletAddress != strings.ToLower(address) {
		t.Fatalf("unexpected address: %s", account.WalletAddress)
	}
	if !strings.Contains(account.Email, "@") {
		t.Fatalf("synthesized email is malformed: %s", account.Email)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a token pair")
	}

	// The generated password sentinel can never be used for password login.
	if _, _, err := service.PasswordLogin(ctx, account.Email, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Second login resolves to the same account.
	_, again, err := service.WalletLogin(ctx, address, "login-nonce-7", signature)
	if err != nil {
		t.Fatalf("second WalletLogin: %v", err)
	}
	if again.ID != account.ID {
		t.Fatalf("second login created a new account: %s vs %s", again.ID, account.ID)
	}
}

func TestWalletLoginRejectsBadSignature(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	address, _ := walletCredentials(t, "nonce")
	_, foreignSig := walletCredentials(t, "nonce")

	if _, _, err := service.WalletLogin(ctx, address, "nonce", foreignSig); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestWalletLoginVerifiesPreexistingUnverifiedWallet(t *testing.T) {
	service, directory, _ := newTestService(t)
	ctx := context.Background()
	address, signature := walletCredentials(t, "nonce")

	hash, err := HashPassword("some-password", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	existing := &Account{
		Email:         "carol@example.com",
		PasswordHash:  hash,
		Role:          RoleUser,
		WalletAddress: strings.ToLower(address),
		Active:        true,
	}
	if err := directory.Create(ctx, existing); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, account, err := service.WalletLogin(ctx, address, "nonce", signature)
	if err != nil {
		t.Fatalf("WalletLogin: %v", err)
	}
	if account.ID != existing.ID {
		t.Fatalf("expected the existing account, got %s", account.ID)
	}
	stored, err := directory.Find(ctx, existing.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !stored.WalletVerified {
		t.Fatal("signature challenge success must set wallet_verified")
	}
}

func TestWalletCreationRaceYieldsOneAccount(t *testing.T) {
	service, directory, _ := newTestService(t)
	ctx := context.Background()
	address, _ := walletCredentials(t, "nonce")
	address = strings.ToLower(address)

	const n = 16
	results := make([]*Account, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account, err := service.findOrCreateAccountForWallet(ctx, address)
			if err != nil {
				t.Errorf("findOrCreateAccountForWallet: %v", err)
				return
			}
			results[i] = account
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, account := range results {
		if account == nil || account.ID != first.ID {
			t.Fatalf("race produced divergent accounts: %+v vs %+v", first, account)
		}
	}
	accounts, err := directory.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected exactly one persisted account, got %d", len(accounts))
	}
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateAccount(ctx, "dave@example.com", "password-1", RoleUser); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	pair, _, err := service.PasswordLogin(ctx, "dave@example.com", "password-1")
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}

	rotated, err := service.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation must mint a fresh refresh token")
	}

	if _, err := service.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("reused refresh token must fail with ErrTokenRevoked, got %v", err)
	}
	if _, err := service.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("the replacement token must still rotate: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateAccount(ctx, "erin@example.com", "password-1", RoleUser); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	pair, _, err := service.PasswordLogin(ctx, "erin@example.com", "password-1")
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}
	if _, err := service.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("access token must not rotate, got %v", err)
	}
}

func TestDeactivationStopsExistingTokens(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	account, err := service.CreateAccount(ctx, "frank@example.com", "password-1", RoleUser)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	pair, _, err := service.PasswordLogin(ctx, "frank@example.com", "password-1")
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}
	if _, err := service.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := service.Deactivate(ctx, account.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := service.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("deactivated account's token must fail with ErrUnauthorized, got %v", err)
	}
	if _, err := service.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("deactivated account must not rotate, got %v", err)
	}

	if err := service.Reactivate(ctx, account.ID); err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if _, err := service.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("reactivated account's token must validate again: %v", err)
	}
}

func TestRevokeTokenStopsFurtherUse(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateAccount(ctx, "grace@example.com", "password-1", RoleUser); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	pair, _, err := service.PasswordLogin(ctx, "grace@example.com", "password-1")
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}

	if err := service.RevokeToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := service.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}

	// The refresh token has its own jti and stays valid.
	if _, err := service.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Refresh after access revocation: %v", err)
	}
}

func TestExpiredAccessTokenFailsAsExpired(t *testing.T) {
	clock := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	now := &clock
	service, _, _ := newTestService(t, WithClock(func() time.Time { return *now }), WithAccessTTL(10*time.Minute))
	ctx := context.Background()

	if _, err := service.CreateAccount(ctx, "heidi@example.com", "password-1", RoleUser); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	pair, _, err := service.PasswordLogin(ctx, "heidi@example.com", "password-1")
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}

	clock = clock.Add(11 * time.Minute)
	if _, err := service.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
