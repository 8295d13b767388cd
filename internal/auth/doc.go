// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package auth issues and validates credentials for Tokengate.
//
// # Flow
//
// A login verifies an email and password against the stored bcrypt hash,
// signs a short-lived HS256 token carrying the user id, and hands it to the
// client in the Authentication cookie. Every protected request reads that
// cookie back, validates the token, loads the user it names, and continues
// with the user attached to the request context.
//
// # Services
//
//   - BcryptHasher - hashing with bounded concurrency
//   - Directory - user creation, credential verification and lookup
//   - TokenService - token signing and validation
//   - CookieTransport - the Authentication cookie
//   - Gateway - the login and authenticate-request flows
//
// Constructors validate their dependencies and return an error for nil ones.
//
// # Errors
//
// Failures are classified with errors.Is against ErrUnauthorized and
// ErrConflict. Anything else is an internal failure. Login never tells an
// unknown email apart from a wrong password.
package auth
