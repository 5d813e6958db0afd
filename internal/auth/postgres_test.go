package auth

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockDirectory(t *testing.T) (*PGDirectory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPGDirectory(db), mock
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "role", "wallet_address",
		"wallet_verified", "active", "created_at", "updated_at",
	})
}

func TestPGDirectoryFind(t *testing.T) {
	directory, mock := newMockDirectory(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select .+ from accounts where id=\$1`).
		WithArgs("acct-1").
		WillReturnRows(accountRows().AddRow(
			"acct-1", "a@example.com", "hash", "user", "",
			false, true, created, created,
		))

	account, err := directory.Find(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if account.Email != "a@example.com" || account.Role != RoleUser || !account.Active {
		t.Fatalf("unexpected account: %+v", account)
	}
}

func TestPGDirectoryFindNotFound(t *testing.T) {
	directory, mock := newMockDirectory(t)

	mock.ExpectQuery(`select .+ from accounts where id=\$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := directory.Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGDirectoryFindByWalletLowercasesAddress(t *testing.T) {
	directory, mock := newMockDirectory(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select .+ from accounts where wallet_address=\$1`).
		WithArgs("0xabcd000000000000000000000000000000001234").
		WillReturnRows(accountRows().AddRow(
			"acct-1", "w@example.com", "hash", "wallet", "0xabcd000000000000000000000000000000001234",
			true, true, created, created,
		))

	account, err := directory.FindByWallet(context.Background(), "0xABCD000000000000000000000000000000001234")
	if err != nil {
		t.Fatalf("FindByWallet: %v", err)
	}
	if account.WalletAddress != "0xabcd000000000000000000000000000000001234" {
		t.Fatalf("unexpected address: %s", account.WalletAddress)
	}
}

func TestPGDirectoryCreateAssignsID(t *testing.T) {
	directory, mock := newMockDirectory(t)

	mock.ExpectExec(regexp.QuoteMeta(`insert into accounts`)).
		WithArgs(sqlmock.AnyArg(), "new@example.com", "hash", RoleUser, "", false, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	account := &Account{Email: "new@example.com", PasswordHash: "hash", Role: RoleUser, Active: true}
	if err := directory.Create(context.Background(), account); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if account.ID == "" {
		t.Fatal("Create must assign an id")
	}
}

func TestPGDirectoryCreateMapsUniqueViolation(t *testing.T) {
	directory, mock := newMockDirectory(t)

	mock.ExpectExec(regexp.QuoteMeta(`insert into accounts`)).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "accounts_email_key"})

	account := &Account{Email: "dup@example.com", PasswordHash: "hash", Role: RoleUser, Active: true}
	if err := directory.Create(context.Background(), account); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPGDirectoryUpdateMissingRow(t *testing.T) {
	directory, mock := newMockDirectory(t)

	mock.ExpectExec(regexp.QuoteMeta(`update accounts`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	account := &Account{ID: "missing", Email: "x@example.com", Role: RoleUser}
	if err := directory.Update(context.Background(), account); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGDirectoryUpdatePassword(t *testing.T) {
	directory, mock := newMockDirectory(t)

	mock.ExpectExec(regexp.QuoteMeta(`update accounts set password_hash=$2, updated_at=now() where id=$1`)).
		WithArgs("acct-1", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := directory.UpdatePassword(context.Background(), "acct-1", "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
}

func TestWrapPGErrorMapsTimeouts(t *testing.T) {
	if err := wrapPGError(context.DeadlineExceeded); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := wrapPGError(context.Canceled); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := wrapPGError(nil); err != nil {
		t.Fatalf("nil must stay nil, got %v", err)
	}
}

func newMockRevocationStore(t *testing.T) (*PGRevocationStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPGRevocationStore(db), mock
}

func TestPGRevocationStoreMarkUpsertsAndSweeps(t *testing.T) {
	store, mock := newMockRevocationStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta(`insert into revoked_tokens`)).
		WithArgs("jti-1", now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`delete from revoked_tokens where expires_at < now()`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := store.Mark(context.Background(), "jti-1", time.Hour); err != nil {
		t.Fatalf("Mark: %v", err)
	}
}

func TestPGRevocationStoreMarkSkipsExpiredTTL(t *testing.T) {
	store, _ := newMockRevocationStore(t)

	// No expectations set: a non-positive ttl must not touch the database.
	if err := store.Mark(context.Background(), "jti-1", 0); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if err := store.Mark(context.Background(), "", time.Hour); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPGRevocationStoreIsMarked(t *testing.T) {
	store, mock := newMockRevocationStore(t)

	mock.ExpectQuery(`select exists`).
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`select exists`).
		WithArgs("jti-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	marked, err := store.IsMarked(context.Background(), "jti-1")
	if err != nil || !marked {
		t.Fatalf("expected marked, got %v %v", marked, err)
	}
	marked, err = store.IsMarked(context.Background(), "jti-2")
	if err != nil || marked {
		t.Fatalf("expected unmarked, got %v %v", marked, err)
	}
}
