package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"authgate.org/internal/ids"
)

// MemoryDirectory is an in-memory Directory used by tests and by the api
// binary when no database is configured. Uniqueness is enforced under a
// single mutex, which makes it a faithful stand-in for the database
// constraints in concurrency tests.
type MemoryDirectory struct {
	mu       sync.Mutex
	byID     map[string]*Account
	byEmail  map[string]string
	byWallet map[string]string
	now      func() time.Time
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:     make(map[string]*Account),
		byEmail:  make(map[string]string),
		byWallet: make(map[string]string),
		now:      time.Now,
	}
}

func (d *MemoryDirectory) Find(ctx context.Context, id string) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	account, ok := d.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(account), nil
}

func (d *MemoryDirectory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(d.byID[id]), nil
}

func (d *MemoryDirectory) FindByWallet(ctx context.Context, address string) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byWallet[strings.ToLower(address)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(d.byID[id]), nil
}

func (d *MemoryDirectory) Create(ctx context.Context, account *Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	email := strings.ToLower(account.Email)
	wallet := strings.ToLower(account.WalletAddress)
	if _, exists := d.byEmail[email]; exists {
		return fmt.Errorf("%w: email %s", ErrConflict, email)
	}
	if wallet != "" {
		if _, exists := d.byWallet[wallet]; exists {
			return fmt.Errorf("%w: wallet %s", ErrConflict, wallet)
		}
	}

	if account.ID == "" {
		account.ID = ids.New()
	}
	now := d.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	d.byID[account.ID] = cloneAccount(account)
	d.byEmail[email] = account.ID
	if wallet != "" {
		d.byWallet[wallet] = account.ID
	}
	return nil
}

func (d *MemoryDirectory) Update(ctx context.Context, account *Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, ok := d.byID[account.ID]
	if !ok {
		return ErrNotFound
	}

	email := strings.ToLower(account.Email)
	wallet := strings.ToLower(account.WalletAddress)
	if id, exists := d.byEmail[email]; exists && id != account.ID {
		return fmt.Errorf("%w: email %s", ErrConflict, email)
	}
	if wallet != "" {
		if id, exists := d.byWallet[wallet]; exists && id != account.ID {
			return fmt.Errorf("%w: wallet %s", ErrConflict, wallet)
		}
	}

	delete(d.byEmail, strings.ToLower(stored.Email))
	if stored.WalletAddress != "" {
		delete(d.byWallet, strings.ToLower(stored.WalletAddress))
	}

	stored.Email = email
	stored.Role = account.Role
	stored.WalletAddress = wallet
	stored.WalletVerified = account.WalletVerified
	stored.Active = account.Active
	stored.UpdatedAt = d.now().UTC()

	d.byEmail[email] = stored.ID
	if wallet != "" {
		d.byWallet[wallet] = stored.ID
	}
	return nil
}

func (d *MemoryDirectory) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored, ok := d.byID[id]
	if !ok {
		return ErrNotFound
	}
	stored.PasswordHash = passwordHash
	stored.UpdatedAt = d.now().UTC()
	return nil
}

func (d *MemoryDirectory) List(ctx context.Context) ([]*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	accounts := make([]*Account, 0, len(d.byID))
	for _, account := range d.byID {
		accounts = append(accounts, cloneAccount(account))
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func cloneAccount(account *Account) *Account {
	copied := *account
	return &copied
}

// MemoryRevocationStore keeps revoked token ids with their expiry in a map.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

var _ RevocationStore = (*MemoryRevocationStore)(nil)

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryRevocationStore) Mark(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		// Already past natural expiry; nothing to deny.
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tokenID] = s.now().Add(ttl)
	return nil
}

func (s *MemoryRevocationStore) IsMarked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.entries[tokenID]
	if !ok {
		return false, nil
	}
	if s.now().After(expiry) {
		delete(s.entries, tokenID)
		return false, nil
	}
	return true, nil
}
