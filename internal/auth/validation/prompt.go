// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package validation

import (
	"fmt"
	"time"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Kind identifies which assessment a Request asks for.
type Kind string

// Assessment kinds.
const (
	KindPassword Kind = "password_strength"
	KindEmail    Kind = "email_format"
	KindRisk     Kind = "account_risk"
)

// Request is one question put to a Capability. Subject is the raw value
// under assessment; Account is set for KindRisk only.
type Request struct {
	Kind    Kind
	Subject string
	System  string
	Prompt  string
	Account *auth.AccountView
}

const (
	passwordSystemPrompt = "You are a security expert. Analyze password strength and provide concise feedback."
	emailSystemPrompt    = "You are a validator. Answer only 'YES' or 'NO'."
	riskSystemPrompt     = "You are a security analyst. Provide brief security recommendations."
)

func passwordRequest(password string) Request {
	return Request{
		Kind:    KindPassword,
		Subject: password,
		System:  passwordSystemPrompt,
		Prompt: fmt.Sprintf(`Analyze this password strength: %q

Provide a brief assessment (1-2 sentences) covering:
- Is it strong enough? (min 8 chars, mix of upper/lower/numbers/symbols)
- Security concerns if any

Format: "VALID: message" or "INVALID: message"
`, password),
	}
}

func emailRequest(email string) Request {
	return Request{
		Kind:    KindEmail,
		Subject: email,
		System:  emailSystemPrompt,
		Prompt:  "Is this a valid email format? " + email,
	}
}

func riskRequest(account auth.AccountView) Request {
	lastLogin := "Never"
	if account.LastLoginAt != nil {
		lastLogin = account.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return Request{
		Kind:    KindRisk,
		Subject: account.Username,
		System:  riskSystemPrompt,
		Prompt: fmt.Sprintf(`Analyze this user account security:
- Created: %s
- Last login: %s

Provide 2-3 brief security recommendations.`,
			account.CreatedAt.UTC().Format(time.RFC3339), lastLogin),
		Account: &account,
	}
}
