// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// legacyUser is one entry of the flat JSON user database:
//
//	{"alice": {"password_hash": "<sha256 hex>", "email": "...",
//	           "created_at": "2024-05-01T10:00:00.123456", "last_login": null}}
type legacyUser struct {
	PasswordHash string  `json:"password_hash"`
	Email        string  `json:"email"`
	CreatedAt    string  `json:"created_at"`
	LastLogin    *string `json:"last_login"`
}

// ImportResult summarizes an ImportLegacyJSON run.
type ImportResult struct {
	Imported []string
	Skipped  []string
	Failed   map[string]error
}

// legacyTimeLayouts cover ISO-8601 timestamps with and without a zone.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseLegacyTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range legacyTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ImportLegacyJSON reads a legacy user database from r and imports each
// user into s in username order. Existing usernames are skipped. Legacy
// SHA-256 digests are kept as-is and upgraded on the next login.
func ImportLegacyJSON(ctx context.Context, s *Store, r io.Reader) (ImportResult, error) {
	var users map[string]legacyUser
	if err := json.NewDecoder(r).Decode(&users); err != nil {
		return ImportResult{}, oops.Code("LEGACY_IMPORT_DECODE_FAILED").Wrap(err)
	}

	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	result := ImportResult{Failed: make(map[string]error)}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return result, oops.Code("LEGACY_IMPORT_CANCELLED").Wrap(err)
		}

		u := users[name]
		account, err := u.toAccount(name)
		if err != nil {
			result.Failed[name] = err
			continue
		}

		err = s.Import(ctx, account)
		switch {
		case err == nil:
			result.Imported = append(result.Imported, name)
		case errors.Is(err, auth.ErrDuplicateUser):
			result.Skipped = append(result.Skipped, name)
		case errors.Is(err, auth.ErrStorageUnavailable):
			return result, err
		default:
			result.Failed[name] = err
		}
	}
	return result, nil
}

func (u legacyUser) toAccount(username string) (*auth.Account, error) {
	createdAt, err := parseLegacyTime(u.CreatedAt)
	if err != nil {
		return nil, oops.Code("LEGACY_IMPORT_INVALID").
			With("username", username).
			With("field", "created_at").
			Wrap(err)
	}
	account := &auth.Account{
		Username:       username,
		PasswordDigest: u.PasswordHash,
		Email:          u.Email,
		CreatedAt:      createdAt,
	}
	if u.LastLogin != nil && *u.LastLogin != "" {
		lastLogin, err := parseLegacyTime(*u.LastLogin)
		if err != nil {
			return nil, oops.Code("LEGACY_IMPORT_INVALID").
				With("username", username).
				With("field", "last_login").
				Wrap(err)
		}
		account.LastLoginAt = &lastLogin
	}
	return account, nil
}
