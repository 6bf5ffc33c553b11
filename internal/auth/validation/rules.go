// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package validation

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// MinPasswordLength is the shortest password RulesCapability accepts.
const MinPasswordLength = 8

// staleLoginAge is how long without a login before an account is
// flagged as dormant.
const staleLoginAge = 90 * 24 * time.Hour

// RulesCapability answers requests with fixed local rules instead of a
// model. It speaks the same verdict protocol as a model would.
type RulesCapability struct {
	now func() time.Time
}

var _ Capability = (*RulesCapability)(nil)

// NewRulesCapability returns a RulesCapability. A nil now uses time.Now.
func NewRulesCapability(now func() time.Time) *RulesCapability {
	if now == nil {
		now = time.Now
	}
	return &RulesCapability{now: now}
}

// Complete answers req.
func (c *RulesCapability) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch req.Kind {
	case KindPassword:
		return passwordRules(req.Subject), nil
	case KindEmail:
		if emailRules(req.Subject) {
			return "YES", nil
		}
		return "NO", nil
	case KindRisk:
		if req.Account == nil {
			return "", oops.Code("VALIDATION_REQUEST_INVALID").Errorf("risk request has no account")
		}
		return c.riskRules(req.Account.CreatedAt, req.Account.LastLoginAt), nil
	}
	return "", oops.Code("VALIDATION_REQUEST_INVALID").With("kind", string(req.Kind)).Errorf("unknown request kind")
}

func passwordRules(password string) string {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			symbol = true
		}
	}

	var missing []string
	if n := utf8.RuneCountInString(password); n < MinPasswordLength {
		missing = append(missing, fmt.Sprintf("at least %d characters (has %d)", MinPasswordLength, n))
	}
	if !upper {
		missing = append(missing, "an uppercase letter")
	}
	if !lower {
		missing = append(missing, "a lowercase letter")
	}
	if !digit {
		missing = append(missing, "a digit")
	}
	if !symbol {
		missing = append(missing, "a symbol")
	}

	if len(missing) > 0 {
		return "INVALID: Password needs " + strings.Join(missing, ", ") + "."
	}
	return "VALID: Password meets length and character-mix requirements."
}

func emailRules(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return !strings.Contains(domain, "..")
}

func (c *RulesCapability) riskRules(created time.Time, lastLogin *time.Time) string {
	now := c.now()
	var recs []string

	switch {
	case lastLogin == nil:
		recs = append(recs, "The account has never been used. Confirm the owner requested it and remove it if not.")
	case now.Sub(*lastLogin) > staleLoginAge:
		days := int(now.Sub(*lastLogin).Hours() / 24)
		recs = append(recs, fmt.Sprintf("No login for %d days. Require a password change at next login.", days))
	default:
		recs = append(recs, "Recent activity looks normal. Review sessions if the last login time is unexpected.")
	}

	if now.Sub(created) > 365*24*time.Hour {
		recs = append(recs, "The account is over a year old. Confirm the registered email address is still current.")
	}
	recs = append(recs, "Use a unique password that is not shared with any other service.")

	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, r)
	}
	return b.String()
}
