// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes auth.Service as a JSON API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Service is the subset of auth.Service the API calls.
type Service interface {
	Register(ctx context.Context, username, password, email string) (string, error)
	Login(ctx context.Context, username, password string) (string, *auth.Session, error)
	VerifySession(ctx context.Context, token string) (string, bool, error)
	Logout(ctx context.Context, token string) (bool, error)
	GetUserInfo(ctx context.Context, username string) (auth.AccountView, error)
	AnalyzeSecurityRisk(ctx context.Context, username string) (string, error)
}

var _ Service = (*auth.Service)(nil)

// RequestRecorder receives one observation per API request.
type RequestRecorder interface {
	ObserveHTTPRequest(route, method string, status int)
}

// Option configures the API handler.
type Option func(*api)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *api) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRecorder sets the request metrics recorder.
func WithRecorder(r RequestRecorder) Option {
	return func(a *api) {
		a.recorder = r
	}
}

// WithRequestTimeout bounds each request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *api) {
		a.timeout = d
	}
}

type api struct {
	svc      Service
	logger   *slog.Logger
	recorder RequestRecorder
	timeout  time.Duration
}

// RequestIDHeader carries the per-request ULID.
const RequestIDHeader = "X-Request-ID"

// NewHandler returns the routed API.
func NewHandler(svc Service, opts ...Option) http.Handler {
	a := &api{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(a.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(chimw.CleanPath)
	if a.timeout > 0 {
		r.Use(chimw.Timeout(a.timeout))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", a.register)
		r.Get("/users/{username}", a.userInfo)
		r.Get("/users/{username}/risk", a.risk)

		r.Post("/sessions", a.login)
		r.Get("/sessions/current", a.verifySession)
		r.Delete("/sessions/current", a.logout)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "no such route", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", "")
	})

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := ulid.ParseStrict(id); err != nil {
			id = ulid.Make().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), chimw.RequestIDKey, id)))
	})
}

// logRequests logs each request once it finishes and records its
// metrics under the matched route pattern.
func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		a.logger.Log(r.Context(), level, "http request",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"elapsed", time.Since(start))

		if a.recorder != nil {
			a.recorder.ObserveHTTPRequest(route, r.Method, status)
		}
	})
}
