// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// DefaultRedisKeyPrefix namespaces session keys.
const DefaultRedisKeyPrefix = "gatekeeper:session:"

// RedisRegistry is a SessionRegistry backed by Redis. Keys carry an
// absolute expiry (EXAT) at the first whole second not before the session
// deadline; Validate enforces the exact deadline against the local clock.
type RedisRegistry struct {
	client redis.Cmdable
	prefix string
	options
}

var _ auth.SessionRegistry = (*RedisRegistry)(nil)

type redisRecord struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisRegistry wraps client. An empty prefix uses DefaultRedisKeyPrefix.
func NewRedisRegistry(client redis.Cmdable, prefix string, opts ...Option) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisRegistry{client: client, prefix: prefix, options: o}
}

func (r *RedisRegistry) key(token string) string {
	return r.prefix + auth.HashSessionToken(token)
}

// Issue stores a new session under the hash of a fresh token.
func (r *RedisRegistry) Issue(ctx context.Context, username string, ttl time.Duration) (string, *auth.Session, error) {
	session, err := auth.NewSession(username, r.now().UTC(), ttl)
	if err != nil {
		return "", nil, err
	}
	token, _, err := auth.GenerateSessionToken()
	if err != nil {
		return "", nil, err
	}

	payload, err := json.Marshal(redisRecord{
		ID:        session.ID.String(),
		Username:  session.Username,
		IssuedAt:  session.IssuedAt,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return "", nil, oops.Code("SESSION_ENCODE_FAILED").Wrap(err)
	}

	err = r.client.SetArgs(ctx, r.key(token), payload, redis.SetArgs{
		Mode:     "NX",
		ExpireAt: keyDeadline(session.ExpiresAt),
	}).Err()
	if errors.Is(err, redis.Nil) {
		return "", nil, oops.Code("SESSION_TOKEN_COLLISION").Errorf("generated token already in use")
	}
	if err != nil {
		return "", nil, auth.StorageFailure("store session", err)
	}
	return token, session, nil
}

// keyDeadline rounds expiresAt up to whole seconds, the resolution of EXAT.
func keyDeadline(expiresAt time.Time) time.Time {
	at := expiresAt.Truncate(time.Second)
	if at.Before(expiresAt) {
		at = at.Add(time.Second)
	}
	return at
}

// Validate loads the session for token and enforces its deadline.
func (r *RedisRegistry) Validate(ctx context.Context, token string) (*auth.Session, bool, error) {
	if !auth.WellFormedToken(token) {
		return nil, false, nil
	}
	key := r.key(token)

	payload, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, auth.StorageFailure("load session", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		r.logger.WarnContext(ctx, "dropping undecodable session record", "error", err)
		r.client.Del(ctx, key)
		return nil, false, nil
	}
	id, err := ulid.Parse(rec.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "dropping session record with bad id", "error", err)
		r.client.Del(ctx, key)
		return nil, false, nil
	}

	session := &auth.Session{ID: id, Username: rec.Username, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt}
	if session.IsExpiredAt(r.now()) {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			r.logger.WarnContext(ctx, "expired session eviction failed", "error", err)
		}
		return nil, false, nil
	}
	return session, true, nil
}

// Revoke deletes the session and reports whether it existed.
func (r *RedisRegistry) Revoke(ctx context.Context, token string) (bool, error) {
	if !auth.WellFormedToken(token) {
		return false, nil
	}
	n, err := r.client.Del(ctx, r.key(token)).Result()
	if err != nil {
		return false, auth.StorageFailure("revoke session", err)
	}
	return n > 0, nil
}
