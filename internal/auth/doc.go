// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the credential and session lifecycle for gatekeeper.
//
// # Domain Types
//
// Account is the durable identity record and AccountView its
// digest-free projection. Session binds a token to a username for a
// fixed lifetime. NewAccount and NewSession validate their inputs;
// direct struct initialization bypasses validation.
//
// # Collaborators
//
// Service depends on four interfaces, each implemented elsewhere:
//   - CredentialStore - package credstore (badger) and package postgres
//   - SessionRegistry - package session (memory and redis)
//   - PasswordHasher - Argon2idHasher in this package
//   - ValidationGateway - package validation
//
// # Errors
//
// Caller-facing failures are the sentinel errors in errors.go, wrapped
// with oops codes. Use errors.Is to test for them and ErrorCode to map
// them to stable codes. Login returns ErrInvalidCredentials unwrapped
// for both unknown users and wrong passwords.
package auth
