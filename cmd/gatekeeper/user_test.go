// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestUserCommands_Lifecycle(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, "Str0ng!Pass\n", "--config", cfg, "user", "register", "alice", "--email", "alice@example.com")
	require.NoError(t, err)
	var reg registerResult
	require.NoError(t, yaml.Unmarshal([]byte(out), &reg))
	assert.Equal(t, "alice", reg.Username)
	assert.Contains(t, reg.Feedback, "Password meets")

	out, err = execute(t, "Str0ng!Pass\n", "--config", cfg, "user", "login", "alice", "-o", "json")
	require.NoError(t, err)
	var login loginResult
	require.NoError(t, json.Unmarshal([]byte(out), &login))
	assert.True(t, auth.WellFormedToken(login.Token))

	out, err = execute(t, "", "--config", cfg, "user", "info", "alice")
	require.NoError(t, err)
	var view auth.AccountView
	require.NoError(t, yaml.Unmarshal([]byte(out), &view))
	assert.Equal(t, "alice@example.com", view.Email)
	assert.NotNil(t, view.LastLoginAt, "login persisted across runs")
	assert.NotContains(t, out, "argon2id")

	out, err = execute(t, "", "--config", cfg, "user", "risk", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "report:")

	out, err = execute(t, "", "--config", cfg, "user", "list")
	require.NoError(t, err)
	var views []auth.AccountView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "alice", views[0].Username)
}

func TestUserCommands_Errors(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, "123\n", "--config", cfg, "user", "register", "bob", "--email", "bob@test.com")
	var weak *auth.WeakPasswordError
	require.ErrorAs(t, err, &weak)

	_, err = execute(t, "", "--config", cfg, "user", "info", "ghost")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = execute(t, "nope\n", "--config", cfg, "user", "login", "ghost")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = execute(t, "", "--config", cfg, "user", "list", "-o", "toml")
	errutil.AssertErrorCode(t, err, "OUTPUT_FORMAT_INVALID")
}

const legacyUsers = `{
  "dave": {
    "password_hash": "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8",
    "email": "dave@example.com",
    "created_at": "2024-05-01T10:00:00",
    "last_login": null
  },
  "erin": {
    "password_hash": "abc",
    "email": "erin@example.com",
    "created_at": "yesterday"
  }
}`

func TestUserCommands_ImportThenLogin(t *testing.T) {
	cfg := writeConfig(t, "")
	legacy := filepath.Join(t.TempDir(), "users_db.json")
	require.NoError(t, os.WriteFile(legacy, []byte(legacyUsers), 0o600))

	out, err := execute(t, "", "--config", cfg, "user", "import", legacy)
	require.NoError(t, err)
	var res importResult
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"dave"}, res.Imported)
	assert.Contains(t, res.Failed, "erin")

	out, err = execute(t, "", "--config", cfg, "user", "import", legacy)
	require.NoError(t, err)
	res = importResult{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Imported)
	assert.Equal(t, []string{"dave"}, res.Skipped)

	_, err = execute(t, "password\n", "--config", cfg, "user", "login", "dave")
	require.NoError(t, err, "legacy digest verifies")

	_, err = execute(t, "", "--config", cfg, "user", "import", filepath.Join(t.TempDir(), "missing.json"))
	errutil.AssertErrorCode(t, err, "IMPORT_READ_FAILED")
}

func TestReadPassword(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"newline", "secret\n", "secret"},
		{"crlf", "secret\r\n", "secret"},
		{"no newline", "secret", "secret"},
		{"only first line", "first\nsecond\n", "first"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPassword(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
