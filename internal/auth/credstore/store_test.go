// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/credstore"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// memBackend is an in-memory Backend with failure injection. Several
// stores may share one to stand in for processes sharing a database.
type memBackend struct {
	mu       sync.Mutex
	records  map[string]auth.Account
	writes   atomic.Int32
	loadErr  error
	writeErr error
	closed   bool
}

func newMemBackend(accounts ...*auth.Account) *memBackend {
	b := &memBackend{records: make(map[string]auth.Account)}
	for _, a := range accounts {
		b.records[a.Username] = *a.Clone()
	}
	return b
}

func (b *memBackend) LoadAll(_ context.Context) ([]*auth.Account, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*auth.Account, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (b *memBackend) Get(_ context.Context, username string) (*auth.Account, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[username]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return r.Clone(), nil
}

func (b *memBackend) Insert(_ context.Context, a *auth.Account) error {
	b.writes.Add(1)
	if b.writeErr != nil {
		return b.writeErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[a.Username]; ok {
		return auth.ErrDuplicateUser
	}
	b.records[a.Username] = *a.Clone()
	return nil
}

func (b *memBackend) UpdateLastLogin(_ context.Context, username string, at time.Time) error {
	return b.modify(username, func(r *auth.Account) { r.LastLoginAt = &at })
}

func (b *memBackend) UpdatePasswordDigest(_ context.Context, username, digest string) error {
	return b.modify(username, func(r *auth.Account) { r.PasswordDigest = digest })
}

func (b *memBackend) modify(username string, fn func(*auth.Account)) error {
	b.writes.Add(1)
	if b.writeErr != nil {
		return b.writeErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[username]
	if !ok {
		return auth.ErrNotFound
	}
	fn(&r)
	b.records[username] = r
	return nil
}

func (b *memBackend) Close() error {
	b.closed = true
	return nil
}

func (b *memBackend) record(username string) (auth.Account, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[username]
	return r, ok
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, backend credstore.Backend) *credstore.Store {
	t.Helper()
	s, err := credstore.Open(context.Background(), backend, credstore.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s
}

func TestOpen(t *testing.T) {
	t.Run("loads existing accounts", func(t *testing.T) {
		backend := newMemBackend(&auth.Account{
			Username:       "alice",
			PasswordDigest: "digest",
			Email:          "a@x.com",
			CreatedAt:      fixedNow,
		})
		s := openStore(t, backend)

		exists, err := s.Exists(context.Background(), "alice")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, 1, s.Count())
	})

	t.Run("load failure is storage unavailable", func(t *testing.T) {
		backend := newMemBackend()
		backend.loadErr = errors.New("disk on fire")

		_, err := credstore.Open(context.Background(), backend)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrStorageUnavailable)
		assert.Contains(t, err.Error(), "disk on fire")
	})

	t.Run("nil backend rejected", func(t *testing.T) {
		_, err := credstore.Open(context.Background(), nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CREDSTORE_INVALID")
	})
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and persists account", func(t *testing.T) {
		backend := newMemBackend()
		s := openStore(t, backend)

		account, err := s.Create(ctx, "alice", "digest", "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, "alice", account.Username)
		assert.Equal(t, fixedNow, account.CreatedAt)
		assert.Nil(t, account.LastLoginAt)

		persisted, ok := backend.record("alice")
		require.True(t, ok)
		assert.Equal(t, "digest", persisted.PasswordDigest)
	})

	t.Run("duplicate username fails", func(t *testing.T) {
		s := openStore(t, newMemBackend())

		_, err := s.Create(ctx, "alice", "digest", "a@x.com")
		require.NoError(t, err)

		_, err = s.Create(ctx, "alice", "other", "b@x.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrDuplicateUser)
		errutil.AssertErrorCode(t, err, auth.CodeDuplicateUser)
	})

	t.Run("usernames are case sensitive", func(t *testing.T) {
		s := openStore(t, newMemBackend())

		_, err := s.Create(ctx, "alice", "digest", "a@x.com")
		require.NoError(t, err)
		_, err = s.Create(ctx, "Alice", "digest", "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, 2, s.Count())
	})

	t.Run("backend failure leaves no visible account", func(t *testing.T) {
		backend := newMemBackend()
		s := openStore(t, backend)
		backend.writeErr = errors.New("connection reset")

		_, err := s.Create(ctx, "alice", "digest", "a@x.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrStorageUnavailable)
		assert.NotErrorIs(t, err, auth.ErrNotFound)

		exists, err := s.Exists(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("cancelled context writes nothing", func(t *testing.T) {
		backend := newMemBackend()
		s := openStore(t, backend)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := s.Create(cancelled, "alice", "digest", "a@x.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, backend.writes.Load())

		exists, _ := s.Exists(ctx, "alice")
		assert.False(t, exists)
	})

	t.Run("invalid username rejected", func(t *testing.T) {
		s := openStore(t, newMemBackend())

		_, err := s.Create(ctx, "has space", "digest", "a@x.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrInvalidUsername)
	})
}

func TestStore_ConcurrentCreateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newMemBackend())

	const callers = 50
	var wg sync.WaitGroup
	var wins, dups atomic.Int32

	for i := range callers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Create(ctx, "contended", fmt.Sprintf("digest-%d", n), "c@x.com")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, auth.ErrDuplicateUser):
				dups.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), dups.Load())
}

func TestStore_ConcurrentUpdatesOnDistinctUsers(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s := openStore(t, backend)

	const users = 20
	for i := range users {
		_, err := s.Create(ctx, fmt.Sprintf("user%d", i), "digest", "u@x.com")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			at := fixedNow.Add(time.Duration(n) * time.Minute)
			assert.NoError(t, s.UpdateLastLogin(ctx, fmt.Sprintf("user%d", n), at))
		}(i)
	}
	wg.Wait()

	for i := range users {
		a, err := s.Find(ctx, fmt.Sprintf("user%d", i))
		require.NoError(t, err)
		require.NotNil(t, a.LastLoginAt)
		assert.Equal(t, fixedNow.Add(time.Duration(i)*time.Minute), *a.LastLoginAt)
	}
}

func TestStore_Find(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newMemBackend())

	_, err := s.Create(ctx, "alice", "digest", "a@x.com")
	require.NoError(t, err)

	t.Run("returns a copy", func(t *testing.T) {
		a, err := s.Find(ctx, "alice")
		require.NoError(t, err)
		a.Email = "mutated@x.com"

		again, err := s.Find(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", again.Email)
	})

	t.Run("missing user is not found", func(t *testing.T) {
		_, err := s.Find(ctx, "nobody")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, auth.CodeNotFound)
	})
}

func TestStore_UpdateLastLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("records time durably", func(t *testing.T) {
		backend := newMemBackend()
		s := openStore(t, backend)
		_, err := s.Create(ctx, "alice", "digest", "a@x.com")
		require.NoError(t, err)

		at := fixedNow.Add(time.Hour)
		require.NoError(t, s.UpdateLastLogin(ctx, "alice", at))

		persisted, _ := backend.record("alice")
		require.NotNil(t, persisted.LastLoginAt)
		assert.Equal(t, at, *persisted.LastLoginAt)
	})

	t.Run("missing user is not found", func(t *testing.T) {
		s := openStore(t, newMemBackend())
		err := s.UpdateLastLogin(ctx, "nobody", fixedNow)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("backend failure keeps previous state", func(t *testing.T) {
		backend := newMemBackend()
		s := openStore(t, backend)
		_, err := s.Create(ctx, "alice", "digest", "a@x.com")
		require.NoError(t, err)

		backend.writeErr = errors.New("timeout")
		err = s.UpdateLastLogin(ctx, "alice", fixedNow.Add(time.Hour))
		assert.ErrorIs(t, err, auth.ErrStorageUnavailable)

		a, err := s.Find(ctx, "alice")
		require.NoError(t, err)
		assert.Nil(t, a.LastLoginAt)
	})
}

func TestStore_UpdatePasswordDigest(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newMemBackend())
	_, err := s.Create(ctx, "alice", "old", "a@x.com")
	require.NoError(t, err)

	require.NoError(t, s.UpdatePasswordDigest(ctx, "alice", "new"))
	a, err := s.Find(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new", a.PasswordDigest)

	assert.ErrorIs(t, s.UpdatePasswordDigest(ctx, "nobody", "new"), auth.ErrNotFound)
	assert.Error(t, s.UpdatePasswordDigest(ctx, "alice", ""))
}

func TestStore_Import(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newMemBackend())

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	last := created.Add(48 * time.Hour)

	err := s.Import(ctx, &auth.Account{
		Username:       "legacy",
		PasswordDigest: "digest",
		Email:          "l@x.com",
		CreatedAt:      created,
		LastLoginAt:    &last,
	})
	require.NoError(t, err)

	a, err := s.Find(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, created, a.CreatedAt)
	require.NotNil(t, a.LastLoginAt)
	assert.Equal(t, last, *a.LastLoginAt)

	err = s.Import(ctx, &auth.Account{Username: "legacy", PasswordDigest: "x", CreatedAt: created})
	assert.ErrorIs(t, err, auth.ErrDuplicateUser)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, newMemBackend())
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := s.Create(ctx, name, "digest", name+"@x.com")
		require.NoError(t, err)
	}

	views := s.List()
	require.Len(t, views, 3)
	assert.Equal(t, "alice", views[0].Username)
	assert.Equal(t, "bob", views[1].Username)
	assert.Equal(t, "carol", views[2].Username)
}

func TestStore_Close(t *testing.T) {
	backend := newMemBackend()
	s := openStore(t, backend)
	require.NoError(t, s.Close())
	assert.True(t, backend.closed)
}

func TestStore_SharedBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("create never overwrites an account another store created", func(t *testing.T) {
		backend := newMemBackend()
		server := openStore(t, backend)
		cli := openStore(t, backend)

		_, err := server.Create(ctx, "alice", "digest-alice", "alice@example.com")
		require.NoError(t, err)

		_, err = cli.Create(ctx, "alice", "digest-other", "other@example.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrDuplicateUser)
		errutil.AssertErrorCode(t, err, auth.CodeDuplicateUser)

		persisted, ok := backend.record("alice")
		require.True(t, ok)
		assert.Equal(t, "digest-alice", persisted.PasswordDigest)
		assert.Equal(t, "alice@example.com", persisted.Email)
	})

	t.Run("import never overwrites either", func(t *testing.T) {
		backend := newMemBackend()
		server := openStore(t, backend)
		cli := openStore(t, backend)

		_, err := server.Create(ctx, "alice", "digest-alice", "alice@example.com")
		require.NoError(t, err)

		err = cli.Import(ctx, &auth.Account{Username: "alice", PasswordDigest: "legacy", CreatedAt: fixedNow})
		assert.ErrorIs(t, err, auth.ErrDuplicateUser)

		persisted, _ := backend.record("alice")
		assert.Equal(t, "digest-alice", persisted.PasswordDigest)
	})

	t.Run("accounts created elsewhere are read through", func(t *testing.T) {
		backend := newMemBackend()
		server := openStore(t, backend)
		cli := openStore(t, backend)

		_, err := cli.Create(ctx, "bob", "digest-bob", "bob@example.com")
		require.NoError(t, err)

		exists, err := server.Exists(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, exists)

		a, err := server.Find(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "digest-bob", a.PasswordDigest)
	})

	t.Run("updates from a stale copy keep other columns", func(t *testing.T) {
		backend := newMemBackend()
		server := openStore(t, backend)
		_, err := server.Create(ctx, "carol", "legacy-digest", "carol@example.com")
		require.NoError(t, err)
		cli := openStore(t, backend)

		require.NoError(t, cli.UpdatePasswordDigest(ctx, "carol", "upgraded-digest"))
		login := fixedNow.Add(time.Hour)
		require.NoError(t, server.UpdateLastLogin(ctx, "carol", login))

		persisted, _ := backend.record("carol")
		assert.Equal(t, "upgraded-digest", persisted.PasswordDigest)
		require.NotNil(t, persisted.LastLoginAt)
		assert.Equal(t, login, *persisted.LastLoginAt)
	})

	t.Run("read-through failure is storage unavailable", func(t *testing.T) {
		backend := newMemBackend()
		s := openStore(t, backend)
		backend.loadErr = errors.New("connection refused")

		_, err := s.Exists(ctx, "dave")
		assert.ErrorIs(t, err, auth.ErrStorageUnavailable)
		_, err = s.Find(ctx, "dave")
		assert.ErrorIs(t, err, auth.ErrStorageUnavailable)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}
