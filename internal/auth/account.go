// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Username constraints. Length is counted in runes.
const (
	MinUsernameLength = 1
	MaxUsernameLength = 64
)

// Account is the durable identity record. Usernames are case-sensitive
// and compared byte for byte.
type Account struct {
	Username       string
	PasswordDigest string
	Email          string
	CreatedAt      time.Time
	LastLoginAt    *time.Time
}

// AccountView is the caller-visible projection of an Account. It never
// carries the password digest.
type AccountView struct {
	Username    string     `json:"username" yaml:"username"`
	Email       string     `json:"email" yaml:"email"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at" yaml:"last_login_at"`
}

// NewAccount creates a validated Account stamped with createdAt.
func NewAccount(username, passwordDigest, email string, createdAt time.Time) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordDigest == "" {
		return nil, oops.Code("ACCOUNT_INVALID_DIGEST").Errorf("password digest cannot be empty")
	}
	if createdAt.IsZero() {
		return nil, oops.Code("ACCOUNT_INVALID_CREATED_AT").Errorf("creation time cannot be zero")
	}
	return &Account{
		Username:       username,
		PasswordDigest: passwordDigest,
		Email:          email,
		CreatedAt:      createdAt.UTC(),
	}, nil
}

// View returns the account without its digest.
func (a *Account) View() AccountView {
	v := AccountView{
		Username:  a.Username,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		v.LastLoginAt = &t
	}
	return v
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// ValidateUsername checks that username is valid UTF-8, between
// MinUsernameLength and MaxUsernameLength runes, and free of whitespace.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidUsername).Wrapf(ErrInvalidUsername, "username cannot be empty")
	}
	if !utf8.ValidString(username) {
		return oops.Code(CodeInvalidUsername).Wrapf(ErrInvalidUsername, "username must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(username); n > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			With("length", n).
			Wrapf(ErrInvalidUsername, "username must be at most %d characters", MaxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return oops.Code(CodeInvalidUsername).
				Wrapf(ErrInvalidUsername, "username must not contain whitespace or control characters")
		}
	}
	return nil
}

// CredentialStore is the durable username to Account mapping.
// Implementations serialize mutations per username and commit durably
// before reporting success.
type CredentialStore interface {
	// Exists reports whether username is registered.
	Exists(ctx context.Context, username string) (bool, error)

	// Create registers a new account. Returns ErrDuplicateUser if the
	// username is taken.
	Create(ctx context.Context, username, passwordDigest, email string) (*Account, error)

	// Find returns a copy of the account or ErrNotFound.
	Find(ctx context.Context, username string) (*Account, error)

	// UpdateLastLogin records a successful login. Returns ErrNotFound if
	// the username is absent.
	UpdateLastLogin(ctx context.Context, username string, at time.Time) error

	// UpdatePasswordDigest replaces the stored digest. Returns
	// ErrNotFound if the username is absent.
	UpdatePasswordDigest(ctx context.Context, username, digest string) error
}
