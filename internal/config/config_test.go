// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.StoreBadger, cfg.Store.Backend)
	assert.Equal(t, config.SessionMemory, cfg.Session.Backend)
	assert.Equal(t, config.ValidationRules, cfg.Validation.Provider)
	assert.Equal(t, auth.DefaultSessionTTL, cfg.Session.TTL)
	assert.Equal(t, auth.DefaultArgon2Params, cfg.Hasher.Argon2Params())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
		{"missing http addr", func(c *config.Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"zero shutdown timeout", func(c *config.Config) { c.HTTP.ShutdownTimeout = 0 }, "http.shutdown_timeout"},
		{"unknown store", func(c *config.Config) { c.Store.Backend = "sqlite" }, "store.backend"},
		{"badger without dir", func(c *config.Config) { c.Store.Badger.Dir = "" }, "store.badger.dir"},
		{"negative gc interval", func(c *config.Config) { c.Store.Badger.GCInterval = -time.Second }, "store.badger.gc_interval"},
		{"postgres without url", func(c *config.Config) { c.Store.Backend = config.StorePostgres }, "store.postgres.url"},
		{"postgres with wrong scheme", func(c *config.Config) {
			c.Store.Backend = config.StorePostgres
			c.Store.Postgres.URL = "mysql://localhost/db"
		}, "store.postgres.url"},
		{"zero session ttl", func(c *config.Config) { c.Session.TTL = 0 }, "session.ttl"},
		{"negative sweep interval", func(c *config.Config) { c.Session.SweepInterval = -time.Second }, "session.sweep_interval"},
		{"unknown session backend", func(c *config.Config) { c.Session.Backend = "etcd" }, "session.backend"},
		{"redis without addr", func(c *config.Config) {
			c.Session.Backend = config.SessionRedis
			c.Session.Redis.Addr = ""
		}, "session.redis.addr"},
		{"zero validation timeout", func(c *config.Config) { c.Validation.Timeout = 0 }, "validation.timeout"},
		{"negative backoff", func(c *config.Config) { c.Validation.Backoff = -time.Second }, "validation.backoff"},
		{"unknown provider", func(c *config.Config) { c.Validation.Provider = "oracle" }, "validation.provider"},
		{"openai without key", func(c *config.Config) { c.Validation.Provider = config.ValidationOpenAI }, "validation.openai.api_key"},
		{"zero hasher threads", func(c *config.Config) { c.Hasher.Threads = 0 }, "hasher"},
		{"hasher memory below floor", func(c *config.Config) { c.Hasher.MemoryKiB = 16 }, "hasher"},
		{"hasher memory above ceiling", func(c *config.Config) { c.Hasher.MemoryKiB = auth.MaxArgon2MemoryKiB + 1 }, "hasher"},
		{"hasher time above ceiling", func(c *config.Config) { c.Hasher.Time = auth.MaxArgon2Time + 1 }, "hasher"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}

func TestConfig_ValidateBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.StorePostgres
	cfg.Store.Postgres.URL = "postgresql://gatekeeper@localhost:5432/gatekeeper"
	cfg.Session.Backend = config.SessionRedis
	cfg.Validation.Provider = config.ValidationOpenAI
	cfg.Validation.OpenAI.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())

	cfg = config.Default()
	cfg.Store.Badger = config.BadgerConfig{InMemory: true}
	assert.NoError(t, cfg.Validate(), "in-memory badger needs no dir")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), *cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  format: text
  level: debug
http:
  addr: 0.0.0.0:8443
store:
  backend: postgres
  postgres:
    url: postgres://gk:secret@db:5432/gatekeeper
    max_conns: 20
session:
  ttl: 2h
  sweep_interval: 30s
validation:
  timeout: 5s
  retries: 3
hasher:
  time: 2
  memory_kib: 32768
  threads: 2
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0:8443", cfg.HTTP.Addr)
	assert.Equal(t, config.StorePostgres, cfg.Store.Backend)
	assert.Equal(t, int32(20), cfg.Store.Postgres.MaxConns)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 30*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.Validation.Timeout)
	assert.Equal(t, uint64(3), cfg.Validation.Retries)
	assert.Equal(t, auth.Argon2Params{Time: 2, MemoryKiB: 32768, Threads: 2}, cfg.Hasher.Argon2Params())

	assert.Equal(t, config.Default().HTTP.ReadTimeout, cfg.HTTP.ReadTimeout, "unset keys keep defaults")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), *cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"unknown key", "store:\n  backend: badger\n  engine: rocks\n", "CONFIG_SCHEMA_VIOLATION"},
		{"bad enum", "session:\n  backend: etcd\n", "CONFIG_SCHEMA_VIOLATION"},
		{"bad duration", "session:\n  ttl: forever\n", "CONFIG_SCHEMA_VIOLATION"},
		{"wrong type", "store:\n  postgres:\n    max_conns: many\n", "CONFIG_SCHEMA_VIOLATION"},
		{"malformed yaml", "log: [unclosed\n", "CONFIG_YAML_INVALID"},
		{"semantic error", "store:\n  backend: postgres\n", "CONFIG_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body), nil)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_READ_FAILED")
	})
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: file:1
session:
  ttl: 1h
  redis:
    key_prefix: fromfile
`)
	t.Setenv("GATEKEEPER_HTTP__ADDR", "env:2")
	t.Setenv("GATEKEEPER_SESSION__TTL", "3h")
	t.Setenv("GATEKEEPER_SESSION__REDIS__KEY_PREFIX", "fromenv")
	t.Setenv("GATEKEEPER_STORE__BADGER__IN_MEMORY", "true")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("http.addr", "", "")
	flags.Duration("session.ttl", time.Minute, "")
	flags.String("config", "", "")
	require.NoError(t, flags.Parse([]string{"--http.addr=flag:3", "--config=ignored.yaml"}))

	cfg, err := config.Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "flag:3", cfg.HTTP.Addr, "flag beats env and file")
	assert.Equal(t, 3*time.Hour, cfg.Session.TTL, "env beats file; unchanged flag does not apply")
	assert.Equal(t, "fromenv", cfg.Session.Redis.KeyPrefix)
	assert.True(t, cfg.Store.Badger.InMemory)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"GATEKEEPER_HTTP__ADDR":                 "http.addr",
		"GATEKEEPER_SESSION__REDIS__KEY_PREFIX": "session.redis.key_prefix",
		"GATEKEEPER_LOG__LEVEL":                 "log.level",
		"HOME":                                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, config.EnvKey(in), in)
	}
}

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, config.SchemaID, schema["$id"])
	assert.Equal(t, false, schema["additionalProperties"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, section := range []string{"log", "http", "metrics", "store", "session", "validation", "hasher"} {
		assert.Contains(t, props, section)
	}

	session := props["session"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "string", session["ttl"].(map[string]any)["type"], "durations are strings")
}

func TestValidateSchema(t *testing.T) {
	assert.NoError(t, config.ValidateSchema([]byte("hasher:\n  threads: 2\n")))
	assert.NoError(t, config.ValidateSchema([]byte("")))

	err := config.ValidateSchema([]byte("hasher:\n  threads: 0\n"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_VIOLATION")
}
