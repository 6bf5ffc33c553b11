// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres persists accounts in PostgreSQL for credstore.Store.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/credstore"
)

// poolIface is the subset of *pgxpool.Pool used here. pgxmock.PgxPoolIface
// satisfies it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// AccountBackend implements credstore.Backend over the accounts table.
type AccountBackend struct {
	pool poolIface
}

var _ credstore.Backend = (*AccountBackend)(nil)

// NewAccountBackend wraps pool. The backend takes ownership and closes
// the pool on Close.
func NewAccountBackend(pool poolIface) *AccountBackend {
	return &AccountBackend{pool: pool}
}

const selectAccounts = `
	SELECT username, password_digest, email, created_at, last_login_at
	FROM accounts
	ORDER BY username`

const selectAccount = `
	SELECT username, password_digest, email, created_at, last_login_at
	FROM accounts
	WHERE username = $1`

const insertAccount = `
	INSERT INTO accounts (username, password_digest, email, created_at, last_login_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (username) DO NOTHING`

const updateLastLogin = `
	UPDATE accounts SET last_login_at = $2, updated_at = now()
	WHERE username = $1`

const updatePasswordDigest = `
	UPDATE accounts SET password_digest = $2, updated_at = now()
	WHERE username = $1`

// LoadAll reads every account.
func (b *AccountBackend) LoadAll(ctx context.Context) ([]*auth.Account, error) {
	rows, err := b.pool.Query(ctx, selectAccounts)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOAD_FAILED").
			With("operation", "query accounts").
			Wrap(err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_SCAN_FAILED").
				With("operation", "scan account row").
				Wrap(err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_ROWS_ERROR").
			With("operation", "iterate account rows").
			Wrap(err)
	}
	return accounts, nil
}

// Get reads one account.
func (b *AccountBackend) Get(ctx context.Context, username string) (*auth.Account, error) {
	a, err := scanAccount(b.pool.QueryRow(ctx, selectAccount, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeNotFound).With("username", username).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").With("username", username).Wrap(err)
	}
	return a, nil
}

// Insert adds a new row. An existing username is left untouched and
// reported as auth.ErrDuplicateUser.
func (b *AccountBackend) Insert(ctx context.Context, account *auth.Account) error {
	tag, err := b.pool.Exec(ctx, insertAccount,
		account.Username,
		account.PasswordDigest,
		account.Email,
		account.CreatedAt,
		account.LastLoginAt,
	)
	if err != nil {
		return writeError("ACCOUNT_INSERT_FAILED", account.Username, err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(auth.CodeDuplicateUser).With("username", account.Username).Wrap(auth.ErrDuplicateUser)
	}
	return nil
}

// UpdateLastLogin sets last_login_at only.
func (b *AccountBackend) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	return b.updateColumn(ctx, updateLastLogin, username, at)
}

// UpdatePasswordDigest sets password_digest only.
func (b *AccountBackend) UpdatePasswordDigest(ctx context.Context, username, digest string) error {
	return b.updateColumn(ctx, updatePasswordDigest, username, digest)
}

func (b *AccountBackend) updateColumn(ctx context.Context, sql, username string, value any) error {
	tag, err := b.pool.Exec(ctx, sql, username, value)
	if err != nil {
		return writeError("ACCOUNT_UPDATE_FAILED", username, err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(auth.CodeNotFound).With("username", username).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a         auth.Account
		lastLogin *time.Time
	)
	if err := row.Scan(&a.Username, &a.PasswordDigest, &a.Email, &a.CreatedAt, &lastLogin); err != nil {
		return nil, err //nolint:wrapcheck // callers attach the code
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if lastLogin != nil {
		t := lastLogin.UTC()
		a.LastLoginAt = &t
	}
	return &a, nil
}

func writeError(code, username string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
		return oops.Code("ACCOUNT_CONSTRAINT_VIOLATION").
			With("username", username).
			With("constraint", pgErr.ConstraintName).
			Wrap(err)
	}
	return oops.Code(code).With("username", username).Wrap(err)
}

// Close closes the pool.
func (b *AccountBackend) Close() error {
	b.pool.Close()
	return nil
}
