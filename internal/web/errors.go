// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// API-only error codes.
const (
	CodeRequestInvalid  = "REQUEST_INVALID"
	CodeUnauthenticated = "AUTH_UNAUTHENTICATED"
)

type problem struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Feedback string `json:"feedback,omitempty"`
}

type problemBody struct {
	Error problem `json:"error"`
}

var statusByCode = map[string]int{
	auth.CodeDuplicateUser:         http.StatusConflict,
	auth.CodeWeakPassword:          http.StatusUnprocessableEntity,
	auth.CodeInvalidEmail:          http.StatusUnprocessableEntity,
	auth.CodeInvalidUsername:       http.StatusBadRequest,
	auth.CodeValidationUnavailable: http.StatusServiceUnavailable,
	auth.CodeInvalidCredentials:    http.StatusUnauthorized,
	auth.CodeNotFound:              http.StatusNotFound,
	auth.CodeStorageUnavailable:    http.StatusServiceUnavailable,
}

var messageByCode = map[string]string{
	auth.CodeDuplicateUser:         auth.ErrDuplicateUser.Error(),
	auth.CodeWeakPassword:          auth.ErrWeakPassword.Error(),
	auth.CodeInvalidEmail:          auth.ErrInvalidEmail.Error(),
	auth.CodeInvalidUsername:       auth.ErrInvalidUsername.Error(),
	auth.CodeValidationUnavailable: auth.ErrValidationUnavailable.Error(),
	auth.CodeInvalidCredentials:    auth.ErrInvalidCredentials.Error(),
	auth.CodeNotFound:              auth.ErrNotFound.Error(),
	auth.CodeStorageUnavailable:    auth.ErrStorageUnavailable.Error(),
}

// StatusFor maps an auth error to its HTTP status.
func StatusFor(err error) int {
	if status, ok := statusByCode[auth.ErrorCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err without exposing causes. Server-side failures
// are logged with their oops context.
func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.ErrorCode(err)
	status := StatusFor(err)

	message, ok := messageByCode[code]
	if !ok {
		code = auth.CodeInternal
		message = "internal error"
	}

	var feedback string
	var weak *auth.WeakPasswordError
	if errors.As(err, &weak) {
		feedback = weak.Feedback
	}

	if status >= http.StatusInternalServerError {
		errutil.LogError(r.Context(), a.logger.With("request_id", chimw.GetReqID(r.Context())), "request failed", err)
	}
	writeProblem(w, status, code, message, feedback)
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper"`)
	writeProblem(w, http.StatusUnauthorized, CodeUnauthenticated, "missing bearer token", "")
}

func writeProblem(w http.ResponseWriter, status int, code, message, feedback string) {
	writeJSON(w, status, problemBody{Error: problem{Code: code, Message: message, Feedback: feedback}})
}
