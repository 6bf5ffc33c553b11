// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package validation

import (
	"strings"
	"unicode"

	"github.com/samber/oops"
)

// CodeMalformedVerdict marks responses with no recognizable leading
// verdict token.
const CodeMalformedVerdict = "VALIDATION_MALFORMED_VERDICT"

func malformedVerdict(kind Kind, expected, response string) error {
	return oops.Code(CodeMalformedVerdict).
		With("kind", string(kind)).
		Errorf("expected %s, got %q", expected, truncate(response, 40))
}

// splitVerdict strips markdown emphasis and quoting, then splits the
// response into an upper-cased leading token and the remaining text.
func splitVerdict(response string) (token, rest string) {
	cleaned := strings.NewReplacer("**", "", "__", "", "`", "").Replace(response)
	cleaned = strings.TrimLeftFunc(cleaned, func(r rune) bool {
		return unicode.IsSpace(r) || r == '*' || r == '_' || r == '"' || r == '\'' || r == '>' || r == '#'
	})

	end := strings.IndexFunc(cleaned, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end < 0 {
		end = len(cleaned)
	}
	token = strings.ToUpper(cleaned[:end])
	rest = strings.TrimLeftFunc(cleaned[end:], func(r rune) bool {
		return unicode.IsSpace(r) || r == '*' || r == '_' || r == ':' || r == '-' || r == '.' || r == ',' || r == '!'
	})
	return token, strings.TrimSpace(rest)
}

// parsePasswordVerdict accepts only a leading VALID or INVALID.
func parsePasswordVerdict(response string) (accepted bool, feedback string, err error) {
	token, rest := splitVerdict(response)
	switch token {
	case "VALID":
		return true, rest, nil
	case "INVALID":
		return false, rest, nil
	}
	return false, "", malformedVerdict(KindPassword, "VALID or INVALID", response)
}

// parseEmailVerdict accepts only a leading YES or NO.
func parseEmailVerdict(response string) (bool, error) {
	token, _ := splitVerdict(response)
	switch token {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	}
	return false, malformedVerdict(KindEmail, "YES or NO", response)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
