// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

var tracer = otel.Tracer("github.com/holomush/gatekeeper/internal/auth")

// Recorder receives one observation per service call.
type Recorder interface {
	ObserveOperation(operation, code string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSessionTTL sets the lifetime of sessions issued by Login.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the time source used for last-login stamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service orchestrates registration, login and session management.
type Service struct {
	store     CredentialStore
	sessions  SessionRegistry
	hasher    PasswordHasher
	validator ValidationGateway

	ttl         time.Duration
	now         func() time.Time
	logger      *slog.Logger
	recorder    Recorder
	dummyDigest string
}

// dummyPasswordHash is verified when a user doesn't exist so that unknown
// usernames cost the same as wrong passwords. It never matches any password.
//
//nolint:gosec // G101: intentionally fake digest for timing equalization, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// NewService creates a Service. All four collaborators are required.
func NewService(
	store CredentialStore,
	sessions SessionRegistry,
	hasher PasswordHasher,
	validator ValidationGateway,
	opts ...ServiceOption,
) (*Service, error) {
	switch {
	case store == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("credential store is required")
	case sessions == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session registry is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case validator == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("validation gateway is required")
	}

	s := &Service{
		store:     store,
		sessions:  sessions,
		hasher:    hasher,
		validator: validator,
		ttl:       DefaultSessionTTL,
		now:       time.Now,
		logger:    slog.Default(),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	// Match the configured hasher cost so the unknown-user path takes as
	// long as a real verification.
	s.dummyDigest = dummyPasswordHash
	if digest, err := hasher.Hash(ulid.Make().String()); err == nil {
		s.dummyDigest = digest
	}

	return s, nil
}

// SessionTTL returns the lifetime of sessions issued by Login.
func (s *Service) SessionTTL() time.Duration {
	return s.ttl
}

// Register creates an account. Checks run in a fixed order: username
// format, duplicate username, password strength, email format. The
// duplicate check runs before any validator call. On success the
// validator's password feedback is returned for display.
func (s *Service) Register(ctx context.Context, username, password, email string) (feedback string, err error) {
	ctx, end := s.begin(ctx, "register", attribute.String("username", username))
	defer func() { end(err) }()

	if err := ValidateUsername(username); err != nil {
		return "", err
	}

	exists, err := s.store.Exists(ctx, username)
	if err != nil {
		return "", StorageFailure("check username", err)
	}
	if exists {
		return "", oops.Code(CodeDuplicateUser).With("username", username).Wrap(ErrDuplicateUser)
	}

	if password == "" {
		return "", oops.Code(CodeWeakPassword).
			With("username", username).
			Wrap(&WeakPasswordError{Feedback: "password cannot be empty"})
	}

	verdict, err := s.validator.AssessPasswordStrength(ctx, password)
	if err != nil {
		return "", ValidationFailure("assess password strength", err)
	}
	if !verdict.Accepted {
		return "", oops.Code(CodeWeakPassword).
			With("username", username).
			Wrap(&WeakPasswordError{Feedback: verdict.Feedback})
	}

	emailOK, err := s.validator.AssessEmailFormat(ctx, email)
	if err != nil {
		return "", ValidationFailure("assess email format", err)
	}
	if !emailOK {
		return "", oops.Code(CodeInvalidEmail).With("username", username).Wrap(ErrInvalidEmail)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return "", oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	if _, err := s.store.Create(ctx, username, digest, email); err != nil {
		return "", StorageFailure("create account", err)
	}

	s.logger.InfoContext(ctx, "account registered", "username", username)
	return verdict.Feedback, nil
}

// Login verifies credentials and issues a session token. Unknown users
// and wrong passwords both return ErrInvalidCredentials itself, unwrapped,
// so the two cases are indistinguishable to callers.
func (s *Service) Login(ctx context.Context, username, password string) (token string, session *Session, err error) {
	ctx, end := s.begin(ctx, "login", attribute.String("username", username))
	defer func() { end(err) }()

	account, lookupErr := s.store.Find(ctx, username)

	var target string
	switch {
	case lookupErr == nil:
		target = account.PasswordDigest
	case errors.Is(lookupErr, ErrNotFound), errors.Is(lookupErr, ErrInvalidUsername):
		target = s.dummyDigest
	default:
		return "", nil, StorageFailure("find account", lookupErr)
	}

	// Always verify so both failure paths do the same work.
	valid, verifyErr := s.hasher.Verify(password, target)
	if account == nil {
		return "", nil, ErrInvalidCredentials
	}
	if verifyErr != nil {
		errutil.LogError(ctx, s.logger.With("username", username), "stored password digest is unreadable", verifyErr)
		return "", nil, ErrInvalidCredentials
	}
	if !valid {
		return "", nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsUpgrade(account.PasswordDigest) {
		s.upgradeDigest(ctx, username, password)
	}

	if err := s.store.UpdateLastLogin(ctx, username, s.now()); err != nil {
		return "", nil, StorageFailure("update last login", err)
	}

	token, session, err = s.sessions.Issue(ctx, username, s.ttl)
	if err != nil {
		if ErrorCode(err) != CodeInternal {
			return "", nil, err
		}
		return "", nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue session").Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"username", username,
		"session_id", session.ID.String(),
		"expires_at", session.ExpiresAt)
	return token, session, nil
}

// upgradeDigest replaces a legacy digest with the current format. Login
// succeeds even if the upgrade fails.
func (s *Service) upgradeDigest(ctx context.Context, username, password string) {
	digest, err := s.hasher.Hash(password)
	if err == nil {
		err = s.store.UpdatePasswordDigest(ctx, username, digest)
	}
	if err != nil {
		errutil.LogWarn(ctx, s.logger.With("username", username), "password digest upgrade failed", err)
		return
	}
	s.logger.InfoContext(ctx, "password digest upgraded", "username", username)
}

// VerifySession reports whether token belongs to a live session and, if
// so, which user owns it.
func (s *Service) VerifySession(ctx context.Context, token string) (username string, ok bool, err error) {
	ctx, end := s.begin(ctx, "verify_session")
	defer func() { end(err) }()

	session, ok, err := s.sessions.Validate(ctx, token)
	if err != nil || !ok {
		return "", false, err
	}
	return session.Username, true, nil
}

// Logout revokes token. Revoking an unknown or already revoked token
// returns false without error.
func (s *Service) Logout(ctx context.Context, token string) (revoked bool, err error) {
	ctx, end := s.begin(ctx, "logout")
	defer func() { end(err) }()

	return s.sessions.Revoke(ctx, token)
}

// GetUserInfo returns the account without its password digest.
func (s *Service) GetUserInfo(ctx context.Context, username string) (view AccountView, err error) {
	ctx, end := s.begin(ctx, "get_user_info", attribute.String("username", username))
	defer func() { end(err) }()

	account, err := s.findExisting(ctx, username)
	if err != nil {
		return AccountView{}, err
	}
	return account.View(), nil
}

// AnalyzeSecurityRisk returns an advisory report for username. The report
// is empty when the validator cannot produce one.
func (s *Service) AnalyzeSecurityRisk(ctx context.Context, username string) (report string, err error) {
	ctx, end := s.begin(ctx, "analyze_security_risk", attribute.String("username", username))
	defer func() { end(err) }()

	account, err := s.findExisting(ctx, username)
	if err != nil {
		return "", err
	}
	return s.validator.AssessAccountRisk(ctx, account.View()), nil
}

func (s *Service) findExisting(ctx context.Context, username string) (*Account, error) {
	account, err := s.store.Find(ctx, username)
	if err == nil {
		return account, nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidUsername) {
		return nil, oops.Code(CodeNotFound).With("username", username).Wrap(ErrNotFound)
	}
	return nil, StorageFailure("find account", err)
}

// begin opens a span for operation and returns a func that closes it and
// records the outcome.
func (s *Service) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "auth."+operation, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		code := ErrorCode(err)
		if code == "" {
			code = "OK"
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		}
		span.End()
		s.recorder.ObserveOperation(operation, code, time.Since(start))
	}
}
