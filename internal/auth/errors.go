// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinels every auth failure is classified under.
var (
	// ErrUnauthorized means the caller could not be authenticated.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict means the request collides with existing state.
	ErrConflict = errors.New("conflict")
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = errors.New("password cannot be empty")

// ErrPasswordTooLong is returned for passwords bcrypt would silently truncate.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func unauthorized(code, msg string) error {
	return oops.Code(code).Wrapf(ErrUnauthorized, "%s", msg)
}

func errInvalidCredentials() error {
	return unauthorized("AUTH_INVALID_CREDENTIALS", "credentials are not valid")
}

func errEmailExists() error {
	return oops.Code("USER_EMAIL_EXISTS").Wrapf(ErrConflict, "email already exists")
}
