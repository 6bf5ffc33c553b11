// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

const accountKeyPrefix = "account/"

// BadgerOptions configures the embedded badger backend.
type BadgerOptions struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string
	// InMemory keeps all data in memory. Nothing survives Close.
	InMemory bool
	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is passed to RunValueLogGC. Defaults to 0.5.
	GCDiscardRatio float64
}

// BadgerBackend stores one JSON record per account in badger.
type BadgerBackend struct {
	db     *badger.DB
	opts   BadgerOptions
	logger *slog.Logger

	lsmSize  prometheus.Gauge
	vlogSize prometheus.Gauge

	stopCh chan struct{}
	doneCh chan struct{}
}

var _ Backend = (*BadgerBackend)(nil)

// record is the persisted form of an account.
type record struct {
	Username       string     `json:"username"`
	PasswordDigest string     `json:"password_digest"`
	Email          string     `json:"email"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

func toRecord(a *auth.Account) record {
	return record{
		Username:       a.Username,
		PasswordDigest: a.PasswordDigest,
		Email:          a.Email,
		CreatedAt:      a.CreatedAt,
		LastLoginAt:    a.LastLoginAt,
	}
}

func (r record) account() *auth.Account {
	return &auth.Account{
		Username:       r.Username,
		PasswordDigest: r.PasswordDigest,
		Email:          r.Email,
		CreatedAt:      r.CreatedAt,
		LastLoginAt:    r.LastLoginAt,
	}
}

// OpenBadger opens the badger database described by opts and starts its
// GC loop.
func OpenBadger(opts BadgerOptions, logger *slog.Logger) (*BadgerBackend, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, oops.Code("BADGER_CONFIG_INVALID").Errorf("badger dir is required unless in-memory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GCDiscardRatio <= 0 || opts.GCDiscardRatio >= 1 {
		opts.GCDiscardRatio = 0.5
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Dir).WithSyncWrites(true)
	}
	bopts = bopts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, oops.Code("BADGER_OPEN_FAILED").With("dir", opts.Dir).Wrap(err)
	}

	b := &BadgerBackend{
		db:     db,
		opts:   opts,
		logger: logger,
		lsmSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Badger LSM tree size in bytes",
		}),
		vlogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Badger value log size in bytes",
		}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if opts.GCInterval > 0 && !opts.InMemory {
		go b.gcLoop()
	} else {
		close(b.doneCh)
	}

	logger.Info("badger backend opened", "dir", opts.Dir, "in_memory", opts.InMemory)
	return b, nil
}

// LoadAll reads every account record.
func (b *BadgerBackend) LoadAll(_ context.Context) ([]*auth.Account, error) {
	var accounts []*auth.Account

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   100,
			Prefix:         []byte(accountKeyPrefix),
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var r record
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				accounts = append(accounts, r.account())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, oops.Code("BADGER_LOAD_FAILED").Wrap(err)
	}
	return accounts, nil
}

// Get reads one account record.
func (b *BadgerBackend) Get(_ context.Context, username string) (*auth.Account, error) {
	var r record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &r) })
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, oops.Code(auth.CodeNotFound).With("username", username).Wrap(auth.ErrNotFound)
	case err != nil:
		return nil, oops.Code("BADGER_READ_FAILED").With("username", username).Wrap(err)
	}
	return r.account(), nil
}

// Insert writes a new account record. The existence check and the write
// share one transaction, so a stored username is never overwritten.
func (b *BadgerBackend) Insert(_ context.Context, account *auth.Account) error {
	val, err := json.Marshal(toRecord(account))
	if err != nil {
		return oops.Code("BADGER_ENCODE_FAILED").With("username", account.Username).Wrap(err)
	}
	key := accountKey(account.Username)
	err = b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return oops.Code(auth.CodeDuplicateUser).With("username", account.Username).Wrap(auth.ErrDuplicateUser)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, val)
	})
	if err == nil || errors.Is(err, auth.ErrDuplicateUser) {
		return err
	}
	return oops.Code("BADGER_WRITE_FAILED").With("username", account.Username).Wrap(err)
}

// UpdateLastLogin sets the last login time of a stored account.
func (b *BadgerBackend) UpdateLastLogin(_ context.Context, username string, at time.Time) error {
	return b.modify(username, func(r *record) { r.LastLoginAt = &at })
}

// UpdatePasswordDigest replaces the digest of a stored account.
func (b *BadgerBackend) UpdatePasswordDigest(_ context.Context, username, digest string) error {
	return b.modify(username, func(r *record) { r.PasswordDigest = digest })
}

// modify applies fn to the stored record in one read-write transaction.
// Badger aborts the commit if another transaction wrote the key first.
func (b *BadgerBackend) modify(username string, fn func(*record)) error {
	key := accountKey(username)
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var r record
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		fn(&r)
		val, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return oops.Code(auth.CodeNotFound).With("username", username).Wrap(auth.ErrNotFound)
	default:
		return oops.Code("BADGER_WRITE_FAILED").With("username", username).Wrap(err)
	}
}

// Close stops the GC loop and closes the database.
func (b *BadgerBackend) Close() error {
	select {
	case <-b.stopCh:
		return nil
	default:
		close(b.stopCh)
	}
	<-b.doneCh

	if err := b.db.Close(); err != nil {
		return oops.Code("BADGER_CLOSE_FAILED").Wrap(err)
	}
	b.logger.Info("badger backend closed")
	return nil
}

// RegisterMetrics registers the size gauges with reg.
func (b *BadgerBackend) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{b.lsmSize, b.vlogSize} {
		if err := reg.Register(c); err != nil {
			return oops.Code("BADGER_METRICS_FAILED").Wrap(err)
		}
	}
	b.refreshSize()
	return nil
}

// GC runs value-log GC until badger reports nothing left to rewrite.
func (b *BadgerBackend) GC() (int, error) {
	if b.opts.InMemory {
		return 0, nil
	}
	rounds := 0
	for {
		err := b.db.RunValueLogGC(b.opts.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return rounds, oops.Code("BADGER_GC_FAILED").Wrap(err)
		}
		rounds++
	}
	b.refreshSize()
	return rounds, nil
}

func (b *BadgerBackend) gcLoop() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.opts.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			rounds, err := b.GC()
			if err != nil {
				b.logger.Warn("badger gc failed", "error", err)
				continue
			}
			b.logger.Debug("badger gc completed", "rounds", rounds)
		}
	}
}

func (b *BadgerBackend) refreshSize() {
	lsm, vlog := b.db.Size()
	b.lsmSize.Set(float64(lsm))
	b.vlogSize.Set(float64(vlog))
}

func accountKey(username string) []byte {
	return []byte(accountKeyPrefix + username)
}

// badgerLogger adapts slog.Logger to badger's Logger interface. Badger's
// info output is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
