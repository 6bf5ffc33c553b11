// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("username", "alice").Errorf("test error")
	errutil.AssertErrorContext(t, err, "username", "alice")
}

func TestAssertErrorContext_MergesWrappedContext(t *testing.T) {
	inner := oops.With("username", "alice").Errorf("inner")
	err := oops.With("operation", "create account").Wrap(inner)
	errutil.AssertErrorContext(t, err, "username", "alice")
	errutil.AssertErrorContext(t, err, "operation", "create account")
}
