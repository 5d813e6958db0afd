package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"authgate.org/internal/ids"
)

const uniqueViolation = "23505"

// PGDirectory implements Directory on PostgreSQL. Email and wallet-address
// uniqueness is carried by the table's unique indexes; a violation surfaces
// as ErrConflict so callers can fall back to a re-fetch.
type PGDirectory struct {
	db *sql.DB
}

var _ Directory = (*PGDirectory)(nil)

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

const accountColumns = `id, email, password_hash, role, coalesce(wallet_address, ''), wallet_verified, active, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.WalletAddress,
		&a.WalletVerified, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapPGError(err)
	}
	return &a, nil
}

func (d *PGDirectory) Find(ctx context.Context, id string) (*Account, error) {
	return scanAccount(d.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
}

func (d *PGDirectory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(d.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, strings.ToLower(email)))
}

func (d *PGDirectory) FindByWallet(ctx context.Context, address string) (*Account, error) {
	return scanAccount(d.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where wallet_address=$1`, strings.ToLower(address)))
}

func (d *PGDirectory) Create(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = ids.New()
	}
	_, err := d.db.ExecContext(ctx,
		`insert into accounts(id, email, password_hash, role, wallet_address, wallet_verified, active)
		 values($1,$2,$3,$4,nullif($5,''),$6,$7)`,
		account.ID, strings.ToLower(account.Email), account.PasswordHash, account.Role,
		strings.ToLower(account.WalletAddress), account.WalletVerified, account.Active,
	)
	return wrapPGError(err)
}

func (d *PGDirectory) Update(ctx context.Context, account *Account) error {
	res, err := d.db.ExecContext(ctx,
		`update accounts
		 set email=$2, role=$3, wallet_address=nullif($4,''), wallet_verified=$5, active=$6, updated_at=now()
		 where id=$1`,
		account.ID, strings.ToLower(account.Email), account.Role,
		strings.ToLower(account.WalletAddress), account.WalletVerified, account.Active,
	)
	if err != nil {
		return wrapPGError(err)
	}
	return requireRowAffected(res)
}

func (d *PGDirectory) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := d.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`,
		id, passwordHash,
	)
	if err != nil {
		return wrapPGError(err)
	}
	return requireRowAffected(res)
}

// List returns all accounts ordered by creation time. Used by the admin
// listing endpoint.
func (d *PGDirectory) List(ctx context.Context) ([]*Account, error) {
	rows, err := d.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts order by created_at asc`)
	if err != nil {
		return nil, wrapPGError(err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// PGRevocationStore implements RevocationStore on PostgreSQL. Rows past their
// expiry are invisible to reads and swept opportunistically on writes.
type PGRevocationStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ RevocationStore = (*PGRevocationStore)(nil)

func NewPGRevocationStore(db *sql.DB) *PGRevocationStore {
	return &PGRevocationStore{db: db, now: time.Now}
}

func (s *PGRevocationStore) Mark(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`insert into revoked_tokens(token_id, expires_at) values($1,$2)
		 on conflict (token_id) do update set expires_at = greatest(revoked_tokens.expires_at, excluded.expires_at)`,
		tokenID, s.now().UTC().Add(ttl),
	)
	if err != nil {
		return wrapPGError(err)
	}
	// Cheap sweep keeps the table bounded without a background job.
	_, _ = s.db.ExecContext(ctx, `delete from revoked_tokens where expires_at < now()`)
	return nil
}

func (s *PGRevocationStore) IsMarked(ctx context.Context, tokenID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from revoked_tokens where token_id=$1 and expires_at > now())`,
		tokenID,
	).Scan(&exists)
	if err != nil {
		return false, wrapPGError(err)
	}
	return exists, nil
}

func wrapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
