// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package credstore implements auth.CredentialStore over a durable backend.
//
// The store loads every account at open and serves reads from memory.
// A miss reads through to the backend, so accounts created by another
// process sharing the backend become visible. Mutations take a
// per-username lock, write through to the backend, and only then become
// visible. The backend is the authority on uniqueness: inserts never
// overwrite and updates touch a single column, so several stores may share
// one backend.
package credstore

import (
	"context"
	"errors"
	"hash/maphash"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/cmap"
)

const lockStripes = 256

// Backend is the persistence boundary. Insert fails with
// auth.ErrDuplicateUser when the username is already stored. Get and the
// update methods fail with auth.ErrNotFound when it is absent.
type Backend interface {
	LoadAll(ctx context.Context) ([]*auth.Account, error)
	Get(ctx context.Context, username string) (*auth.Account, error)
	Insert(ctx context.Context, account *auth.Account) error
	UpdateLastLogin(ctx context.Context, username string, at time.Time) error
	UpdatePasswordDigest(ctx context.Context, username, digest string) error
	Close() error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store implements auth.CredentialStore.
type Store struct {
	backend  Backend
	accounts *cmap.Map[*auth.Account]
	locks    [lockStripes]sync.Mutex
	seed     maphash.Seed
	now      func() time.Time
	logger   *slog.Logger
}

var _ auth.CredentialStore = (*Store)(nil)

// Open loads every account from backend and returns a ready Store.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, oops.Code("CREDSTORE_INVALID").Errorf("backend is required")
	}

	s := &Store{
		backend:  backend,
		accounts: cmap.New[*auth.Account](),
		seed:     maphash.MakeSeed(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	accounts, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, auth.StorageFailure("load accounts", err)
	}
	for _, a := range accounts {
		if !s.accounts.SetIfAbsent(a.Username, a.Clone()) {
			s.logger.Warn("duplicate account in backend, keeping first", "username", a.Username)
		}
	}

	s.logger.Info("credential store loaded", "accounts", s.accounts.Count())
	return s, nil
}

// lock serializes mutations on username. Unrelated usernames may share a
// stripe.
func (s *Store) lock(username string) func() {
	mu := &s.locks[maphash.String(s.seed, username)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Exists reports whether username is registered.
func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	_, err := s.lookup(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, auth.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Find returns a copy of the account.
func (s *Store) Find(ctx context.Context, username string) (*auth.Account, error) {
	a, err := s.lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// lookup serves username from the index, reading through to the backend
// on a miss. The miss path holds the username lock so a concurrent update
// cannot be shadowed by an older row.
func (s *Store) lookup(ctx context.Context, username string) (*auth.Account, error) {
	if a, ok := s.accounts.Get(username); ok {
		return a, nil
	}
	unlock := s.lock(username)
	defer unlock()

	a, err := s.backend.Get(ctx, username)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return nil, notFound(username)
	case err != nil:
		return nil, auth.StorageFailure("find account", err)
	}
	return s.accounts.GetOrSet(username, a.Clone), nil
}

// Create registers a new account stamped with the current time.
func (s *Store) Create(ctx context.Context, username, passwordDigest, email string) (*auth.Account, error) {
	account, err := auth.NewAccount(username, passwordDigest, email, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, account, "create account"); err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// Import inserts a fully formed account, keeping its timestamps.
func (s *Store) Import(ctx context.Context, account *auth.Account) error {
	validated, err := auth.NewAccount(account.Username, account.PasswordDigest, account.Email, account.CreatedAt)
	if err != nil {
		return err
	}
	if account.LastLoginAt != nil {
		t := account.LastLoginAt.UTC()
		validated.LastLoginAt = &t
	}
	return s.insert(ctx, validated, "import account")
}

func (s *Store) insert(ctx context.Context, account *auth.Account, operation string) error {
	unlock := s.lock(account.Username)
	defer unlock()

	if _, ok := s.accounts.Get(account.Username); ok {
		return duplicate(account.Username)
	}
	err := s.write(ctx, account.Username, operation, func(ctx context.Context) error {
		return s.backend.Insert(ctx, account)
	})
	if errors.Is(err, auth.ErrDuplicateUser) {
		s.logger.Info("username taken in backend", "username", account.Username)
		return duplicate(account.Username)
	}
	if err != nil {
		return err
	}
	s.accounts.Set(account.Username, account.Clone())
	return nil
}

// UpdateLastLogin records a successful login time.
func (s *Store) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	at = at.UTC()
	return s.update(ctx, username, "update last login",
		func(ctx context.Context) error { return s.backend.UpdateLastLogin(ctx, username, at) },
		func(a *auth.Account) { a.LastLoginAt = &at })
}

// UpdatePasswordDigest replaces the stored digest.
func (s *Store) UpdatePasswordDigest(ctx context.Context, username, digest string) error {
	if digest == "" {
		return oops.Code("ACCOUNT_INVALID_DIGEST").Errorf("password digest cannot be empty")
	}
	return s.update(ctx, username, "update password digest",
		func(ctx context.Context) error { return s.backend.UpdatePasswordDigest(ctx, username, digest) },
		func(a *auth.Account) { a.PasswordDigest = digest })
}

// update applies one column change durably, then mirrors it into the
// index if the account is cached.
func (s *Store) update(ctx context.Context, username, operation string, persist func(context.Context) error, mutate func(*auth.Account)) error {
	unlock := s.lock(username)
	defer unlock()

	err := s.write(ctx, username, operation, persist)
	if errors.Is(err, auth.ErrNotFound) {
		return notFound(username)
	}
	if err != nil {
		return err
	}
	if current, ok := s.accounts.Get(username); ok {
		next := current.Clone()
		mutate(next)
		s.accounts.Set(username, next)
	}
	return nil
}

// write runs a durable backend call. Cancellation is honoured only before
// the write starts; once started it runs to completion. Duplicate and
// not-found outcomes pass through unchanged for the caller to map.
func (s *Store) write(ctx context.Context, username, operation string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("CREDSTORE_CANCELLED").
			With("operation", operation).
			With("username", username).
			Wrap(err)
	}
	err := fn(context.WithoutCancel(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrDuplicateUser), errors.Is(err, auth.ErrNotFound):
		return err
	default:
		return auth.StorageFailure(operation, err)
	}
}

// List returns every account view sorted by username.
func (s *Store) List() []auth.AccountView {
	views := make([]auth.AccountView, 0, s.accounts.Count())
	s.accounts.Range(func(_ string, a *auth.Account) bool {
		views = append(views, a.View())
		return true
	})
	sort.Slice(views, func(i, j int) bool { return views[i].Username < views[j].Username })
	return views
}

// Count returns the number of registered accounts.
func (s *Store) Count() int {
	return s.accounts.Count()
}

// Close closes the backend.
func (s *Store) Close() error {
	if err := s.backend.Close(); err != nil {
		return oops.Code("CREDSTORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func duplicate(username string) error {
	return oops.Code(auth.CodeDuplicateUser).With("username", username).Wrap(auth.ErrDuplicateUser)
}

func notFound(username string) error {
	return oops.Code(auth.CodeNotFound).With("username", username).Wrap(auth.ErrNotFound)
}
