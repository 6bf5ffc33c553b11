// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL connection pool and the account
// schema migrations.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolOptions tunes NewPool.
type PoolOptions struct {
	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32
	// ConnectAttempts is how many times the initial ping is tried.
	ConnectAttempts uint64
	// ConnectBackoff is the first retry delay; it doubles per attempt.
	ConnectBackoff time.Duration
}

// DefaultPoolOptions are used for zero fields of PoolOptions.
var DefaultPoolOptions = PoolOptions{
	ConnectAttempts: 5,
	ConnectBackoff:  250 * time.Millisecond,
}

// NewPool opens a pgx pool for databaseURL and waits until the server
// answers a ping.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = DefaultPoolOptions.ConnectAttempts
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = DefaultPoolOptions.ConnectBackoff
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("POOL_CONFIG_INVALID").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("POOL_CREATE_FAILED").Wrap(err)
	}

	backoff := retry.WithMaxRetries(opts.ConnectAttempts-1, retry.NewExponential(opts.ConnectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("POOL_CONNECT_FAILED").
			With("host", cfg.ConnConfig.Host).
			With("attempts", opts.ConnectAttempts).
			Wrap(err)
	}
	return pool, nil
}
