// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package validation_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/validation"
)

// scripted answers each call with the next reply in turn.
type scripted struct {
	calls    atomic.Int32
	replies  []reply
	requests []validation.Request
}

type reply struct {
	text  string
	err   error
	delay time.Duration
}

func (s *scripted) Complete(ctx context.Context, req validation.Request) (string, error) {
	n := int(s.calls.Add(1)) - 1
	s.requests = append(s.requests, req)
	r := s.replies[min(n, len(s.replies)-1)]
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.text, r.err
}

func newGateway(t *testing.T, c validation.Capability, opts ...validation.GatewayOption) *validation.Gateway {
	t.Helper()
	opts = append([]validation.GatewayOption{validation.WithBackoff(time.Millisecond)}, opts...)
	g, err := validation.NewGateway(c, opts...)
	require.NoError(t, err)
	return g
}

func TestNewGateway_RequiresCapability(t *testing.T) {
	_, err := validation.NewGateway(nil)
	assert.Error(t, err)
}

func TestGateway_AssessPasswordStrength(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted with feedback", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "**VALID**: Good length and variety."}}}
		verdict, err := newGateway(t, c).AssessPasswordStrength(ctx, "Str0ng!Pass")
		require.NoError(t, err)
		assert.True(t, verdict.Accepted)
		assert.Equal(t, "Good length and variety.", verdict.Feedback)

		require.Len(t, c.requests, 1)
		assert.Equal(t, validation.KindPassword, c.requests[0].Kind)
		assert.Contains(t, c.requests[0].System, "security expert")
		assert.Contains(t, c.requests[0].Prompt, `"VALID: message" or "INVALID: message"`)
	})

	t.Run("rejected", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "INVALID: Too short."}}}
		verdict, err := newGateway(t, c).AssessPasswordStrength(ctx, "abc")
		require.NoError(t, err)
		assert.False(t, verdict.Accepted)
		assert.Equal(t, "Too short.", verdict.Feedback)
	})

	t.Run("feedback never overrides the token", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "VALID: but this password is extremely weak"}}}
		verdict, err := newGateway(t, c).AssessPasswordStrength(ctx, "pw")
		require.NoError(t, err)
		assert.True(t, verdict.Accepted)
	})

	t.Run("malformed verdict fails closed", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "The password seems strong to me."}}}
		_, err := newGateway(t, c).AssessPasswordStrength(ctx, "Str0ng!Pass")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrValidationUnavailable)
		assert.Equal(t, int32(1), c.calls.Load(), "malformed verdicts are not retried")
	})

	t.Run("outage fails closed after retries", func(t *testing.T) {
		c := &scripted{replies: []reply{{err: errors.New("503 service unavailable")}}}
		_, err := newGateway(t, c, validation.WithRetries(2)).AssessPasswordStrength(ctx, "Str0ng!Pass")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrValidationUnavailable)
		assert.Equal(t, int32(3), c.calls.Load())
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		c := &scripted{replies: []reply{
			{err: errors.New("connection reset")},
			{text: "VALID: fine"},
		}}
		verdict, err := newGateway(t, c).AssessPasswordStrength(ctx, "Str0ng!Pass")
		require.NoError(t, err)
		assert.True(t, verdict.Accepted)
		assert.Equal(t, int32(2), c.calls.Load())
	})

	t.Run("timeout fails closed", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "VALID: late", delay: time.Second}}}
		g := newGateway(t, c, validation.WithTimeout(20*time.Millisecond))

		start := time.Now()
		_, err := g.AssessPasswordStrength(ctx, "Str0ng!Pass")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrValidationUnavailable)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("caller deadline is honoured", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "VALID: late", delay: time.Second}}}
		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := newGateway(t, c).AssessPasswordStrength(short, "Str0ng!Pass")
		assert.ErrorIs(t, err, auth.ErrValidationUnavailable)
	})
}

func TestGateway_AssessEmailFormat(t *testing.T) {
	ctx := context.Background()

	t.Run("yes", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "YES"}}}
		ok, err := newGateway(t, c).AssessEmailFormat(ctx, "a@x.com")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Is this a valid email format? a@x.com", c.requests[0].Prompt)
	})

	t.Run("no", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "NO."}}}
		ok, err := newGateway(t, c).AssessEmailFormat(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed fails closed", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "It depends."}}}
		_, err := newGateway(t, c).AssessEmailFormat(ctx, "a@x.com")
		assert.ErrorIs(t, err, auth.ErrValidationUnavailable)
	})

	t.Run("outage fails closed", func(t *testing.T) {
		c := &scripted{replies: []reply{{err: errors.New("dns failure")}}}
		_, err := newGateway(t, c, validation.WithRetries(0)).AssessEmailFormat(ctx, "a@x.com")
		assert.ErrorIs(t, err, auth.ErrValidationUnavailable)
	})
}

func TestGateway_AssessAccountRisk(t *testing.T) {
	ctx := context.Background()
	account := auth.AccountView{
		Username:  "alice",
		Email:     "a@x.com",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	t.Run("returns report", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "  1. Rotate passwords.\n2. Enable MFA.  "}}}
		report := newGateway(t, c).AssessAccountRisk(ctx, account)
		assert.Equal(t, "1. Rotate passwords.\n2. Enable MFA.", report)

		prompt := c.requests[0].Prompt
		assert.Contains(t, prompt, "- Created: 2026-01-02T03:04:05Z")
		assert.Contains(t, prompt, "- Last login: Never")
		assert.Contains(t, prompt, "Provide 2-3 brief security recommendations.")
		assert.NotContains(t, prompt, "a@x.com")
	})

	t.Run("outage fails open", func(t *testing.T) {
		c := &scripted{replies: []reply{{err: errors.New("503")}}}
		report := newGateway(t, c, validation.WithRetries(0)).AssessAccountRisk(ctx, account)
		assert.Empty(t, report)
	})

	t.Run("timeout fails open", func(t *testing.T) {
		c := &scripted{replies: []reply{{text: "late", delay: time.Second}}}
		report := newGateway(t, c, validation.WithTimeout(10*time.Millisecond)).AssessAccountRisk(ctx, account)
		assert.Empty(t, report)
	})
}

func TestGateway_WithRulesCapability(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t, validation.NewRulesCapability(nil))

	verdict, err := g.AssessPasswordStrength(ctx, "weak")
	require.NoError(t, err)
	assert.False(t, verdict.Accepted)
	assert.True(t, strings.HasPrefix(verdict.Feedback, "Password needs"))

	verdict, err = g.AssessPasswordStrength(ctx, "Str0ng!Passw0rd")
	require.NoError(t, err)
	assert.True(t, verdict.Accepted)

	ok, err := g.AssessEmailFormat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.AssessEmailFormat(ctx, "alice@localhost")
	require.NoError(t, err)
	assert.False(t, ok)
}
