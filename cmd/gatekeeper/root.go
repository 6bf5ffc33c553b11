// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/xdg"
)

const serviceName = "gatekeeper"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// NewRootCmd creates the root command for the gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "gatekeeper - credential and session management",
		Long: `gatekeeper registers accounts, verifies passwords and issues
session tokens, with password and email checks delegated to a
validation service. Settings come from defaults, an optional YAML
file, GATEKEEPER_ environment variables and flags, in that order.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/gatekeeper/config.yaml)")
	flags.String("log.format", defaults.Log.Format, "log format (json or text)")
	flags.String("log.level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("store.backend", defaults.Store.Backend, "credential store backend (badger or postgres)")
	flags.String("store.badger.dir", defaults.Store.Badger.Dir, "badger data directory")
	flags.String("store.postgres.url", "", "PostgreSQL connection URL")
	flags.String("session.backend", defaults.Session.Backend, "session backend (memory or redis)")
	flags.String("session.redis.addr", defaults.Session.Redis.Addr, "redis address")
	flags.String("validation.provider", defaults.Validation.Provider, "validation provider (rules or openai)")

	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewMigrateCmd(opts))
	cmd.AddCommand(NewUserCmd(opts))

	return cmd
}

// load resolves the configuration for cmd. Without --config the XDG
// config file is used when present.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	path := o.configFile
	if path == "" {
		if found, ok := xdg.DefaultConfigFile(); ok {
			path = found
		}
	}
	return config.Load(path, cmd.Flags())
}

// logger builds the command logger on cmd's stderr.
func (o *rootOptions) logger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	return logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
}
