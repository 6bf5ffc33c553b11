// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package validation adapts an untrusted semantic-validation capability,
// such as a language model, to auth.ValidationGateway.
//
// Only the verdict token of a response is acted on. Password and email
// checks fail closed; the risk report fails open.
package validation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Capability answers a Request with free text.
type Capability interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Defaults for Gateway.
const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 1
	DefaultBackoff = 200 * time.Millisecond
)

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout bounds each assessment, retries included.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRetries sets how many times a failed capability call is retried.
func WithRetries(n uint64) GatewayOption {
	return func(g *Gateway) {
		g.retries = n
	}
}

// WithBackoff sets the first retry delay. Later delays double.
func WithBackoff(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.backoff = d
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gateway implements auth.ValidationGateway over a Capability.
type Gateway struct {
	capability Capability
	timeout    time.Duration
	retries    uint64
	backoff    time.Duration
	logger     *slog.Logger
}

var _ auth.ValidationGateway = (*Gateway)(nil)

// NewGateway wraps capability.
func NewGateway(capability Capability, opts ...GatewayOption) (*Gateway, error) {
	if capability == nil {
		return nil, oops.Code("VALIDATION_CONFIG_INVALID").Errorf("capability is required")
	}
	g := &Gateway{
		capability: capability,
		timeout:    DefaultTimeout,
		retries:    DefaultRetries,
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AssessPasswordStrength asks the capability whether password is strong
// enough. Any failure to get a VALID or INVALID verdict is an error
// matching auth.ErrValidationUnavailable.
func (g *Gateway) AssessPasswordStrength(ctx context.Context, password string) (auth.PasswordVerdict, error) {
	response, err := g.complete(ctx, passwordRequest(password))
	if err != nil {
		return auth.PasswordVerdict{}, auth.ValidationFailure("assess password strength", err)
	}
	accepted, feedback, err := parsePasswordVerdict(response)
	if err != nil {
		g.logger.WarnContext(ctx, "malformed password verdict", "error", err)
		return auth.PasswordVerdict{}, auth.ValidationFailure("assess password strength", err)
	}
	return auth.PasswordVerdict{Accepted: accepted, Feedback: feedback}, nil
}

// AssessEmailFormat asks the capability whether email is well formed.
// Failures are reported like AssessPasswordStrength.
func (g *Gateway) AssessEmailFormat(ctx context.Context, email string) (bool, error) {
	response, err := g.complete(ctx, emailRequest(email))
	if err != nil {
		return false, auth.ValidationFailure("assess email format", err)
	}
	ok, err := parseEmailVerdict(response)
	if err != nil {
		g.logger.WarnContext(ctx, "malformed email verdict", "error", err)
		return false, auth.ValidationFailure("assess email format", err)
	}
	return ok, nil
}

// AssessAccountRisk returns the capability's recommendations for account,
// or "" if none could be produced.
func (g *Gateway) AssessAccountRisk(ctx context.Context, account auth.AccountView) string {
	response, err := g.complete(ctx, riskRequest(account))
	if err != nil {
		g.logger.WarnContext(ctx, "risk analysis unavailable",
			"username", account.Username,
			"error", err)
		return ""
	}
	return strings.TrimSpace(response)
}

// complete calls the capability under the gateway timeout, retrying
// failed calls with exponential backoff inside the same deadline.
func (g *Gateway) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var response string
	attempt := 0
	backoff := retry.WithMaxRetries(g.retries, retry.NewExponential(g.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		out, err := g.capability.Complete(ctx, req)
		if err == nil {
			response = out
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		g.logger.DebugContext(ctx, "validation capability call failed",
			"kind", string(req.Kind),
			"attempt", attempt,
			"error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return "", oops.Code("VALIDATION_CAPABILITY_FAILED").
			With("kind", string(req.Kind)).
			With("attempts", attempt).
			Wrap(err)
	}
	return response, nil
}
