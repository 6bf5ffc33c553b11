// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatekeeper configuration from defaults, a YAML
// file, GATEKEEPER_ environment variables and command-line flags, in
// that order of precedence.
package config

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/session"
	"github.com/holomush/gatekeeper/internal/auth/validation"
	"github.com/holomush/gatekeeper/internal/xdg"
)

// Store backends.
const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

// Session backends.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Validation providers.
const (
	ValidationRules  = "rules"
	ValidationOpenAI = "openai"
)

// Config is the complete gatekeeper configuration.
type Config struct {
	Log        LogConfig        `koanf:"log" json:"log,omitempty" yaml:"log"`
	HTTP       HTTPConfig       `koanf:"http" json:"http,omitempty" yaml:"http"`
	Metrics    MetricsConfig    `koanf:"metrics" json:"metrics,omitempty" yaml:"metrics"`
	Store      StoreConfig      `koanf:"store" json:"store,omitempty" yaml:"store"`
	Session    SessionConfig    `koanf:"session" json:"session,omitempty" yaml:"session"`
	Validation ValidationConfig `koanf:"validation" json:"validation,omitempty" yaml:"validation"`
	Hasher     HasherConfig     `koanf:"hasher" json:"hasher,omitempty" yaml:"hasher"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// HTTPConfig configures the JSON API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" json:"addr,omitempty" yaml:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" json:"read_timeout,omitempty" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" json:"write_timeout,omitempty" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" yaml:"addr"`
}

// StoreConfig selects and configures the account backend.
type StoreConfig struct {
	Backend  string         `koanf:"backend" json:"backend,omitempty" yaml:"backend" jsonschema:"enum=badger,enum=postgres"`
	Badger   BadgerConfig   `koanf:"badger" json:"badger,omitempty" yaml:"badger"`
	Postgres PostgresConfig `koanf:"postgres" json:"postgres,omitempty" yaml:"postgres"`
}

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	Dir        string        `koanf:"dir" json:"dir,omitempty" yaml:"dir"`
	InMemory   bool          `koanf:"in_memory" json:"in_memory,omitempty" yaml:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval" json:"gc_interval,omitempty" yaml:"gc_interval"`
}

// PostgresConfig configures the SQL store.
type PostgresConfig struct {
	URL         string `koanf:"url" json:"url,omitempty" yaml:"url"`
	MaxConns    int32  `koanf:"max_conns" json:"max_conns,omitempty" yaml:"max_conns" jsonschema:"minimum=0"`
	AutoMigrate bool   `koanf:"auto_migrate" json:"auto_migrate,omitempty" yaml:"auto_migrate"`
}

// SessionConfig selects and configures the session registry.
type SessionConfig struct {
	Backend       string        `koanf:"backend" json:"backend,omitempty" yaml:"backend" jsonschema:"enum=memory,enum=redis"`
	TTL           time.Duration `koanf:"ttl" json:"ttl,omitempty" yaml:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval" json:"sweep_interval,omitempty" yaml:"sweep_interval"`
	Redis         RedisConfig   `koanf:"redis" json:"redis,omitempty" yaml:"redis"`
}

// RedisConfig configures the redis session registry.
type RedisConfig struct {
	Addr      string `koanf:"addr" json:"addr,omitempty" yaml:"addr"`
	Password  string `koanf:"password" json:"password,omitempty" yaml:"password"`
	DB        int    `koanf:"db" json:"db,omitempty" yaml:"db" jsonschema:"minimum=0"`
	KeyPrefix string `koanf:"key_prefix" json:"key_prefix,omitempty" yaml:"key_prefix"`
}

// ValidationConfig selects and configures the semantic validator.
type ValidationConfig struct {
	Provider string        `koanf:"provider" json:"provider,omitempty" yaml:"provider" jsonschema:"enum=rules,enum=openai"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout,omitempty" yaml:"timeout"`
	Retries  uint64        `koanf:"retries" json:"retries,omitempty" yaml:"retries"`
	Backoff  time.Duration `koanf:"backoff" json:"backoff,omitempty" yaml:"backoff"`
	OpenAI   OpenAIConfig  `koanf:"openai" json:"openai,omitempty" yaml:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible capability.
type OpenAIConfig struct {
	APIKey    string `koanf:"api_key" json:"api_key,omitempty" yaml:"api_key"`
	BaseURL   string `koanf:"base_url" json:"base_url,omitempty" yaml:"base_url"`
	Model     string `koanf:"model" json:"model,omitempty" yaml:"model"`
	MaxTokens int    `koanf:"max_tokens" json:"max_tokens,omitempty" yaml:"max_tokens" jsonschema:"minimum=0"`
}

// HasherConfig tunes argon2id.
type HasherConfig struct {
	Time      uint32 `koanf:"time" json:"time,omitempty" yaml:"time" jsonschema:"minimum=1,maximum=64"`
	MemoryKiB uint32 `koanf:"memory_kib" json:"memory_kib,omitempty" yaml:"memory_kib" jsonschema:"minimum=8,maximum=4194304"`
	Threads   uint8  `koanf:"threads" json:"threads,omitempty" yaml:"threads" jsonschema:"minimum=1"`
}

// Default returns the built-in configuration: badger on disk, in-memory
// sessions and the offline rules validator.
func Default() Config {
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Store: StoreConfig{
			Backend: StoreBadger,
			Badger: BadgerConfig{
				Dir:        defaultBadgerDir(),
				GCInterval: 10 * time.Minute,
			},
			Postgres: PostgresConfig{MaxConns: 5},
		},
		Session: SessionConfig{
			Backend:       SessionMemory,
			TTL:           auth.DefaultSessionTTL,
			SweepInterval: time.Minute,
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: session.DefaultRedisKeyPrefix,
			},
		},
		Validation: ValidationConfig{
			Provider: ValidationRules,
			Timeout:  validation.DefaultTimeout,
			Retries:  validation.DefaultRetries,
			Backoff:  validation.DefaultBackoff,
			OpenAI: OpenAIConfig{
				Model:     validation.DefaultOpenAIModel,
				MaxTokens: 300,
			},
		},
		Hasher: HasherConfig{
			Time:      auth.DefaultArgon2Params.Time,
			MemoryKiB: auth.DefaultArgon2Params.MemoryKiB,
			Threads:   auth.DefaultArgon2Params.Threads,
		},
	}
}

// defaultBadgerDir is XDG_DATA_HOME/gatekeeper/accounts, or a relative
// directory when no home is known.
func defaultBadgerDir() string {
	dir, err := xdg.DataDir()
	if err != nil {
		return filepath.Join("data", "accounts")
	}
	return filepath.Join(dir, "accounts")
}

// Argon2Params converts the hasher section.
func (c HasherConfig) Argon2Params() auth.Argon2Params {
	return auth.Argon2Params{Time: c.Time, MemoryKiB: c.MemoryKiB, Threads: c.Threads}
}

// Validate checks enums, durations and the fields each selected backend
// requires.
func (c *Config) Validate() error {
	invalid := func(key, reason string) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s: %s", key, reason)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "must be json or text")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level", "must be debug, info, warn or error")
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return invalid("http.shutdown_timeout", "must be positive")
	}

	switch c.Store.Backend {
	case StoreBadger:
		if !c.Store.Badger.InMemory && c.Store.Badger.Dir == "" {
			return invalid("store.badger.dir", "is required unless store.badger.in_memory is set")
		}
		if c.Store.Badger.GCInterval < 0 {
			return invalid("store.badger.gc_interval", "must not be negative")
		}
	case StorePostgres:
		if c.Store.Postgres.URL == "" {
			return invalid("store.postgres.url", "is required for the postgres backend")
		}
		u, err := url.Parse(c.Store.Postgres.URL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return invalid("store.postgres.url", "must be a postgres:// URL")
		}
	default:
		return invalid("store.backend", "must be badger or postgres")
	}

	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "must be positive")
	}
	if c.Session.SweepInterval < 0 {
		return invalid("session.sweep_interval", "must not be negative")
	}
	switch c.Session.Backend {
	case SessionMemory:
	case SessionRedis:
		if c.Session.Redis.Addr == "" {
			return invalid("session.redis.addr", "is required for the redis backend")
		}
	default:
		return invalid("session.backend", "must be memory or redis")
	}

	if c.Validation.Timeout <= 0 {
		return invalid("validation.timeout", "must be positive")
	}
	if c.Validation.Backoff < 0 {
		return invalid("validation.backoff", "must not be negative")
	}
	switch c.Validation.Provider {
	case ValidationRules:
	case ValidationOpenAI:
		if c.Validation.OpenAI.APIKey == "" {
			return invalid("validation.openai.api_key", "is required for the openai provider")
		}
	default:
		return invalid("validation.provider", "must be rules or openai")
	}

	if c.Hasher.Time < 1 || c.Hasher.Threads < 1 || c.Hasher.MemoryKiB < 8*uint32(c.Hasher.Threads) {
		return invalid("hasher", "argon2id needs time >= 1, threads >= 1 and memory_kib >= 8*threads")
	}
	if c.Hasher.Time > auth.MaxArgon2Time || c.Hasher.MemoryKiB > auth.MaxArgon2MemoryKiB {
		return invalid("hasher", "argon2id time or memory_kib above the supported maximum")
	}
	return nil
}
