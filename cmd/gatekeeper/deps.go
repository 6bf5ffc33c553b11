// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/credstore"
	"github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/auth/session"
	"github.com/holomush/gatekeeper/internal/auth/validation"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/store"
	"github.com/holomush/gatekeeper/internal/xdg"
)

// app is a wired auth.Service together with the resources it owns.
type app struct {
	logger   *slog.Logger
	accounts *credstore.Store
	svc      *auth.Service

	// badger is set when store.backend is badger.
	badger *credstore.BadgerBackend
	// memory is set when session.backend is memory.
	memory *session.Registry
	// redis is set when session.backend is redis.
	redis *redis.Client
}

// buildApp opens the configured backends and wires the service. extra
// options are applied after the configured ones.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...auth.ServiceOption) (*app, error) {
	a := &app{logger: logger}

	backend, err := a.openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.accounts, err = credstore.Open(ctx, backend, credstore.WithLogger(logger))
	if err != nil {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Warn("failed to close credential backend", "error", closeErr)
		}
		return nil, err
	}

	sessions, err := a.openSessions(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	capability, err := newCapability(cfg.Validation)
	if err != nil {
		a.close()
		return nil, err
	}
	gateway, err := validation.NewGateway(capability,
		validation.WithTimeout(cfg.Validation.Timeout),
		validation.WithRetries(cfg.Validation.Retries),
		validation.WithBackoff(cfg.Validation.Backoff),
		validation.WithLogger(logger))
	if err != nil {
		a.close()
		return nil, err
	}

	hasher := auth.NewArgon2idHasherWithParams(cfg.Hasher.Argon2Params())

	opts := append([]auth.ServiceOption{
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithLogger(logger),
	}, extra...)
	a.svc, err = auth.NewService(a.accounts, sessions, hasher, gateway, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openBackend(ctx context.Context, cfg *config.Config) (credstore.Backend, error) {
	switch cfg.Store.Backend {
	case config.StoreBadger:
		if !cfg.Store.Badger.InMemory {
			if err := xdg.EnsureDir(cfg.Store.Badger.Dir); err != nil {
				return nil, err
			}
		}
		b, err := credstore.OpenBadger(credstore.BadgerOptions{
			Dir:        cfg.Store.Badger.Dir,
			InMemory:   cfg.Store.Badger.InMemory,
			GCInterval: cfg.Store.Badger.GCInterval,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.badger = b
		return b, nil

	case config.StorePostgres:
		url := cfg.Store.Postgres.URL
		if cfg.Store.Postgres.AutoMigrate {
			if err := migrateUp(url); err != nil {
				return nil, err
			}
			a.logger.Info("account schema migrated")
		}
		opts := store.DefaultPoolOptions
		opts.MaxConns = cfg.Store.Postgres.MaxConns
		pool, err := store.NewPool(ctx, url, opts)
		if err != nil {
			return nil, err
		}
		return postgres.NewAccountBackend(pool), nil
	}
	return nil, oops.Code("CONFIG_INVALID").
		With("key", "store.backend").
		Errorf("unknown store backend %q", cfg.Store.Backend)
}

func (a *app) openSessions(ctx context.Context, cfg *config.Config) (auth.SessionRegistry, error) {
	switch cfg.Session.Backend {
	case config.SessionMemory:
		a.memory = session.NewRegistry(session.WithLogger(a.logger))
		return a.memory, nil

	case config.SessionRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close() //nolint:errcheck // ping error takes precedence
			return nil, oops.Code("SESSION_BACKEND_UNAVAILABLE").
				With("addr", cfg.Session.Redis.Addr).
				Wrap(err)
		}
		a.redis = client
		return session.NewRedisRegistry(client, cfg.Session.Redis.KeyPrefix, session.WithLogger(a.logger)), nil
	}
	return nil, oops.Code("CONFIG_INVALID").
		With("key", "session.backend").
		Errorf("unknown session backend %q", cfg.Session.Backend)
}

func newCapability(cfg config.ValidationConfig) (validation.Capability, error) {
	switch cfg.Provider {
	case config.ValidationRules:
		return validation.NewRulesCapability(time.Now), nil
	case config.ValidationOpenAI:
		capability, err := validation.NewOpenAICapability(validation.OpenAIConfig{
			APIKey:    cfg.OpenAI.APIKey,
			BaseURL:   cfg.OpenAI.BaseURL,
			Model:     cfg.OpenAI.Model,
			MaxTokens: cfg.OpenAI.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return capability, nil
	}
	return nil, oops.Code("CONFIG_INVALID").
		With("key", "validation.provider").
		Errorf("unknown validation provider %q", cfg.Provider)
}

// close releases everything buildApp opened. Failures are logged.
func (a *app) close() {
	if a.accounts != nil {
		if err := a.accounts.Close(); err != nil {
			a.logger.Warn("failed to close credential store", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
}

// migrateUp applies pending account migrations to databaseURL.
func migrateUp(databaseURL string) (err error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return m.Up()
}
