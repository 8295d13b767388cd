// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/tokengate/tokengate/internal/document"
)

// dummyPassword seeds the hash compared against when an email is unknown,
// so a miss costs the same bcrypt work as a wrong password.
//
//nolint:gosec // G101: not a credential, never matches a stored user
const dummyPassword = "tokengate-timing-equalizer"

// Directory owns user accounts: creation with unique emails, credential
// verification and lookup.
type Directory struct {
	users  UserRepository
	hasher PasswordHasher
	logger *slog.Logger
	now    func() time.Time

	dummyMu   sync.Mutex
	dummyHash string
}

// NewDirectory creates a Directory with a no-op logger.
// Returns an error if any required dependency is nil.
func NewDirectory(users UserRepository, hasher PasswordHasher) (*Directory, error) {
	return NewDirectoryWithLogger(users, hasher, slog.New(slog.DiscardHandler))
}

// NewDirectoryWithLogger creates a Directory with the provided logger.
// Returns an error if any required dependency is nil.
func NewDirectoryWithLogger(users UserRepository, hasher PasswordHasher, logger *slog.Logger) (*Directory, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Directory{
		users:  users,
		hasher: hasher,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Create registers a new user. An email that is already taken yields
// ErrConflict, whether the lookup finds it or the store's unique index
// rejects a racing insert.
func (d *Directory) Create(ctx context.Context, email, password string) (User, error) {
	email = NormalizeEmail(email)

	_, err := d.users.FindOne(ctx, ByEmail(email))
	switch {
	case err == nil:
		return User{}, errEmailExists()
	case !document.IsNotFound(err):
		return User{}, oops.Code("USER_CREATE_FAILED").
			With("operation", "check existing email").
			Wrap(err)
	}

	hash, err := d.hasher.Hash(ctx, password)
	if err != nil {
		return User{}, oops.With("operation", "hash password").Wrap(err)
	}

	user, err := d.users.Create(ctx, User{
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    d.now().UTC(),
	})
	if document.IsDuplicate(err) {
		return User{}, errEmailExists()
	}
	if err != nil {
		return User{}, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}

	d.logger.Info("user created", "user_id", user.ID.String())
	return user, nil
}

// Verify checks an email and password. Every rejection, including an
// unknown email, is the same ErrUnauthorized.
func (d *Directory) Verify(ctx context.Context, email, password string) (User, error) {
	user, err := d.users.FindOne(ctx, ByEmail(email))
	if document.IsNotFound(err) {
		d.burnCompare(ctx, password)
		return User{}, errInvalidCredentials()
	}
	if err != nil {
		return User{}, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	ok, err := d.hasher.Compare(ctx, password, user.PasswordHash)
	if err != nil {
		return User{}, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "compare password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !ok {
		return User{}, errInvalidCredentials()
	}
	return user, nil
}

// GetUser returns the user matching filter, or document.ErrNotFound.
func (d *Directory) GetUser(ctx context.Context, filter document.Filter) (User, error) {
	return d.users.FindOne(ctx, filter)
}

// List returns every user.
func (d *Directory) List(ctx context.Context) ([]User, error) {
	users, err := d.users.Find(ctx, document.Filter{})
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").Wrap(err)
	}
	return users, nil
}

// burnCompare spends one comparison against a throwaway hash.
func (d *Directory) burnCompare(ctx context.Context, password string) {
	hash := d.timingHash(ctx)
	if hash == "" {
		return
	}
	_, _ = d.hasher.Compare(ctx, password, hash) //nolint:errcheck // only the elapsed time matters
}

// timingHash returns the throwaway hash, building it on first use. A failed
// build is retried on the next miss; the caller's cancellation never
// prevents it.
func (d *Directory) timingHash(ctx context.Context) string {
	d.dummyMu.Lock()
	defer d.dummyMu.Unlock()
	if d.dummyHash != "" {
		return d.dummyHash
	}
	hash, err := d.hasher.Hash(context.WithoutCancel(ctx), dummyPassword)
	if err != nil {
		d.logger.Warn("failed to prepare timing-equalizer hash", "error", err)
		return ""
	}
	d.dummyHash = hash
	return hash
}
