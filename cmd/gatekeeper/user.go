// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/gatekeeper/internal/auth/credstore"
)

// Output formats.
const (
	formatYAML = "yaml"
	formatJSON = "json"
)

type registerResult struct {
	Username string `json:"username" yaml:"username"`
	Feedback string `json:"feedback" yaml:"feedback"`
}

type loginResult struct {
	Token     string    `json:"token" yaml:"token"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

type riskResult struct {
	Username string `json:"username" yaml:"username"`
	Report   string `json:"report" yaml:"report"`
}

type importResult struct {
	Imported []string          `json:"imported" yaml:"imported"`
	Skipped  []string          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failed   map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// NewUserCmd creates the user subcommand. Its children run the service
// in-process against the configured backends.
func NewUserCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts directly",
		Long: `Run account operations in-process against the configured store.
Passwords are read from the first line of stdin.`,
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", formatYAML, "output format (yaml or json)")

	var email string
	register := &cobra.Command{
		Use:   "register USERNAME",
		Short: "Register an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				feedback, err := a.svc.Register(ctx, args[0], password, email)
				if err != nil {
					return err
				}
				return printValue(cmd, output, registerResult{Username: args[0], Feedback: feedback})
			})
		},
	}
	register.Flags().StringVar(&email, "email", "", "account email address")
	cmd.AddCommand(register)

	cmd.AddCommand(&cobra.Command{
		Use:   "login USERNAME",
		Short: "Check a password and issue a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				token, session, err := a.svc.Login(ctx, args[0], password)
				if err != nil {
					return err
				}
				return printValue(cmd, output, loginResult{Token: token, ExpiresAt: session.ExpiresAt})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info USERNAME",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				view, err := a.svc.GetUserInfo(ctx, args[0])
				if err != nil {
					return err
				}
				return printValue(cmd, output, view)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "risk USERNAME",
		Short: "Show the security risk report for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				report, err := a.svc.AnalyzeSecurityRisk(ctx, args[0])
				if err != nil {
					return err
				}
				return printValue(cmd, output, riskResult{Username: args[0], Report: report})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				return printValue(cmd, output, a.accounts.List())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Import a legacy JSON user database",
		Long: `Import users from a legacy JSON database keyed by username. Existing
usernames are skipped. SHA-256 digests are upgraded on each user's next login.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0]) //nolint:gosec // operator-supplied path
			if err != nil {
				return oops.Code("IMPORT_READ_FAILED").With("path", args[0]).Wrap(err)
			}
			defer func() { _ = f.Close() }()

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := credstore.ImportLegacyJSON(ctx, a.accounts, f)
				out := importResult{Imported: res.Imported, Skipped: res.Skipped}
				if len(res.Failed) > 0 {
					out.Failed = make(map[string]string, len(res.Failed))
					for name, failure := range res.Failed {
						out.Failed[name] = failure.Error()
					}
				}
				if printErr := printValue(cmd, output, out); printErr != nil && err == nil {
					err = printErr
				}
				return err
			})
		},
	})

	return cmd
}

// withApp builds the service for one command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) error) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}
	logger, err := opts.logger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// readPassword returns the first line of r without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// printValue writes v to cmd's stdout as yaml or json.
func printValue(cmd *cobra.Command, format string, v any) error {
	w := cmd.OutOrStdout()
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	}
	return oops.Code("OUTPUT_FORMAT_INVALID").With("format", format).Errorf("unknown output format %q", format)
}
