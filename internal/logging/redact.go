// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Redacted replaces sensitive values in log output.
const Redacted = "***REDACTED***"

var sensitiveKeys = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"api_key",
	"apikey",
	"authorization",
	"digest",
}

var sessionTokenPattern = regexp.MustCompile(regexp.QuoteMeta(auth.SessionTokenPrefix) + `[0-9A-Za-z]+`)

// IsSensitiveKey reports whether values logged under key are masked.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactString masks every session token embedded in s.
func RedactString(s string) string {
	if !strings.Contains(s, auth.SessionTokenPrefix) {
		return s
	}
	return sessionTokenPattern.ReplaceAllString(s, auth.SessionTokenPrefix+Redacted)
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	switch a.Value.Kind() {
	case slog.KindString:
		if v := a.Value.String(); strings.Contains(v, auth.SessionTokenPrefix) {
			return slog.String(a.Key, RedactString(v))
		}
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case error:
			if msg := v.Error(); strings.Contains(msg, auth.SessionTokenPrefix) {
				return slog.String(a.Key, RedactString(msg))
			}
		case map[string]any:
			return slog.Any(a.Key, redactMap(v))
		}
	}
	return a
}

// redactMap masks oops error context, which errutil logs as one map.
func redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveKey(k):
			out[k] = Redacted
		case isString(v):
			out[k] = RedactString(v.(string))
		default:
			out[k] = v
		}
	}
	return out
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}
