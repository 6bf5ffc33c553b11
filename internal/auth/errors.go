// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors reported to callers. Lower layers wrap these with oops
// codes and context; test for them with errors.Is.
var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateUser         = errors.New("username already exists")
	ErrWeakPassword          = errors.New("password rejected")
	ErrInvalidEmail          = errors.New("invalid email format")
	ErrInvalidUsername       = errors.New("invalid username")
	ErrValidationUnavailable = errors.New("validation service unavailable")
	ErrInvalidCredentials    = errors.New("invalid username or password")
	ErrStorageUnavailable    = errors.New("storage unavailable")
)

// Error codes attached to wrapped sentinels.
const (
	CodeNotFound              = "AUTH_NOT_FOUND"
	CodeDuplicateUser         = "AUTH_DUPLICATE_USER"
	CodeWeakPassword          = "AUTH_WEAK_PASSWORD"
	CodeInvalidEmail          = "AUTH_INVALID_EMAIL"
	CodeInvalidUsername       = "AUTH_INVALID_USERNAME"
	CodeValidationUnavailable = "AUTH_VALIDATION_UNAVAILABLE"
	CodeInvalidCredentials    = "AUTH_INVALID_CREDENTIALS"
	CodeStorageUnavailable    = "AUTH_STORAGE_UNAVAILABLE"
	CodeInternal              = "AUTH_INTERNAL"
)

// WeakPasswordError carries the validator's feedback for a rejected
// password. It matches ErrWeakPassword under errors.Is.
type WeakPasswordError struct {
	Feedback string
}

func (e *WeakPasswordError) Error() string {
	if e.Feedback == "" {
		return ErrWeakPassword.Error()
	}
	return ErrWeakPassword.Error() + ": " + e.Feedback
}

// Unwrap returns ErrWeakPassword.
func (e *WeakPasswordError) Unwrap() error {
	return ErrWeakPassword
}

// taxonomy is ordered: the first matching sentinel wins.
var taxonomy = []struct {
	err  error
	code string
}{
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrDuplicateUser, CodeDuplicateUser},
	{ErrWeakPassword, CodeWeakPassword},
	{ErrInvalidEmail, CodeInvalidEmail},
	{ErrInvalidUsername, CodeInvalidUsername},
	{ErrValidationUnavailable, CodeValidationUnavailable},
	{ErrStorageUnavailable, CodeStorageUnavailable},
	{ErrNotFound, CodeNotFound},
}

// ErrorCode maps err onto the caller-facing taxonomy. Errors outside the
// taxonomy map to CodeInternal; nil maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.code
		}
	}
	return CodeInternal
}

// classifiedError tags a cause with a taxonomy sentinel so errors.Is
// matches both.
type classifiedError struct {
	kind  error
	cause error
}

func (e *classifiedError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// StorageFailure wraps a backend error as StorageUnavailable. Errors
// that already belong to the taxonomy, and context cancellation, pass
// through unchanged.
func StorageFailure(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return classify(CodeStorageUnavailable, ErrStorageUnavailable, operation, err)
}

// ValidationFailure wraps a validator error as ValidationUnavailable.
// Errors that already belong to the taxonomy pass through unchanged.
func ValidationFailure(operation string, err error) error {
	return classify(CodeValidationUnavailable, ErrValidationUnavailable, operation, err)
}

func classify(code string, kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	if ErrorCode(err) != CodeInternal {
		return err
	}
	return oops.Code(code).
		With("operation", operation).
		Wrap(&classifiedError{kind: kind, cause: err})
}
