// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session holds the SessionRegistry implementations.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/cmap"
)

// Option configures a Registry or RedisRegistry.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

func defaultOptions() options {
	return options{now: time.Now, logger: slog.Default()}
}

// WithClock overrides the time source used for issue and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Registry is an in-process SessionRegistry. Entries are keyed by the
// SHA-256 of the token so the plaintext never sits in memory after
// Issue returns.
type Registry struct {
	sessions *cmap.Map[*auth.Session]
	options
}

var _ auth.SessionRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{sessions: cmap.New[*auth.Session](), options: o}
}

// Issue creates a session for username that expires ttl from now.
func (r *Registry) Issue(_ context.Context, username string, ttl time.Duration) (string, *auth.Session, error) {
	session, err := auth.NewSession(username, r.now().UTC(), ttl)
	if err != nil {
		return "", nil, err
	}
	token, hash, err := auth.GenerateSessionToken()
	if err != nil {
		return "", nil, err
	}
	if !r.sessions.SetIfAbsent(hash, session) {
		return "", nil, oops.Code("SESSION_TOKEN_COLLISION").Errorf("generated token already in use")
	}
	copied := *session
	return token, &copied, nil
}

// Validate returns the session for token. An expired entry is removed.
func (r *Registry) Validate(_ context.Context, token string) (*auth.Session, bool, error) {
	if !auth.WellFormedToken(token) {
		return nil, false, nil
	}
	hash := auth.HashSessionToken(token)
	session, ok := r.sessions.Get(hash)
	if !ok {
		return nil, false, nil
	}

	now := r.now()
	if session.IsExpiredAt(now) {
		// Only evict the entry we judged; a concurrent revoke may have
		// already removed it.
		r.sessions.RemoveIf(hash, func(s *auth.Session) bool { return s.IsExpiredAt(now) })
		return nil, false, nil
	}
	copied := *session
	return &copied, true, nil
}

// Revoke removes the session for token and reports whether it existed.
func (r *Registry) Revoke(_ context.Context, token string) (bool, error) {
	if !auth.WellFormedToken(token) {
		return false, nil
	}
	_, ok := r.sessions.Pop(auth.HashSessionToken(token))
	return ok, nil
}

// Sweep removes every expired session and returns how many it removed.
func (r *Registry) Sweep() int {
	now := r.now()
	return r.sessions.Prune(func(_ string, s *auth.Session) bool {
		return s.IsExpiredAt(now)
	})
}

// Count returns the number of held sessions, including expired ones not
// yet swept.
func (r *Registry) Count() int {
	return r.sessions.Count()
}

// StartSweeper calls Sweep every interval until ctx is done. The returned
// channel is closed once the sweeper has stopped.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					r.logger.Debug("expired sessions swept", "removed", n, "remaining", r.Count())
				}
			}
		}
	}()
	return done
}
