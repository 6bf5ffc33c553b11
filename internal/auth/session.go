// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenBytes  = 32     // 256 bits of entropy
	SessionTokenPrefix = "gks_" // marks tokens for log redaction
	DefaultSessionTTL  = 24 * time.Hour
)

// Session binds a token to the account that logged in. The plaintext
// token is only held by the caller; registries key sessions by
// HashSessionToken.
type Session struct {
	ID        ulid.ULID `json:"id"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewSession creates a session for username valid for ttl from issuedAt.
func NewSession(username string, issuedAt time.Time, ttl time.Duration) (*Session, error) {
	if username == "" {
		return nil, oops.Code("SESSION_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if ttl <= 0 {
		return nil, oops.Code("SESSION_INVALID_TTL").With("ttl", ttl.String()).Errorf("ttl must be positive")
	}
	return &Session{
		ID:        ulid.Make(),
		Username:  username,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

// IsExpiredAt returns true if the session is expired at t. A session is
// still valid at exactly ExpiresAt.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = SessionTokenPrefix + hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA-256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// WellFormedToken reports whether token has the shape produced by
// GenerateSessionToken. Registries use it to reject garbage cheaply.
func WellFormedToken(token string) bool {
	body, ok := strings.CutPrefix(token, SessionTokenPrefix)
	if !ok || len(body) != SessionTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// SessionRegistry issues, validates and revokes session tokens.
type SessionRegistry interface {
	// Issue creates a session for username and returns its token.
	Issue(ctx context.Context, username string, ttl time.Duration) (string, *Session, error)

	// Validate returns the session for token. ok is false for unknown,
	// revoked or expired tokens. Expired entries are evicted. Expiry is
	// never extended.
	Validate(ctx context.Context, token string) (session *Session, ok bool, err error)

	// Revoke removes the session and reports whether it was present.
	Revoke(ctx context.Context, token string) (bool, error)
}
