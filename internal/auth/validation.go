// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "context"

// PasswordVerdict is the normalized outcome of a password strength check.
// Feedback is display text only and is never inspected for decisions.
type PasswordVerdict struct {
	Accepted bool
	Feedback string
}

// ValidationGateway adapts an external semantic-validation capability.
//
// AssessPasswordStrength and AssessEmailFormat fail closed: any failure
// to obtain a verdict is returned as an error matching
// ErrValidationUnavailable. AssessAccountRisk fails open and returns an
// empty report instead of an error.
type ValidationGateway interface {
	AssessPasswordStrength(ctx context.Context, password string) (PasswordVerdict, error)
	AssessEmailFormat(ctx context.Context, email string) (bool, error)
	AssessAccountRisk(ctx context.Context, account AccountView) string
}
