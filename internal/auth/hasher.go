// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package auth

import (
	"context"
	"errors"
	"runtime"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultHashCost is the bcrypt work factor for new hashes.
const DefaultHashCost = 10

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted bcrypt hash of the password.
	Hash(ctx context.Context, password string) (string, error)

	// Compare checks password against hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error for a malformed hash.
	Compare(ctx context.Context, password, hash string) (bool, error)
}

// HasherOption configures a BcryptHasher.
type HasherOption func(*BcryptHasher)

// WithCost overrides DefaultHashCost. Values outside bcrypt's range fall
// back to the default.
func WithCost(cost int) HasherOption {
	return func(h *BcryptHasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.cost = cost
		}
	}
}

// WithConcurrency bounds how many hash operations run at once. n <= 0 means
// GOMAXPROCS.
func WithConcurrency(n int) HasherOption {
	return func(h *BcryptHasher) {
		if n > 0 {
			h.slots = int64(n)
		}
	}
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost  int
	slots int64
	sem   *semaphore.Weighted
}

// NewBcryptHasher creates a new BcryptHasher.
func NewBcryptHasher(opts ...HasherOption) *BcryptHasher {
	h := &BcryptHasher{
		cost:  DefaultHashCost,
		slots: int64(runtime.GOMAXPROCS(0)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sem = semaphore.NewWeighted(h.slots)
	return h
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", oops.Code("AUTH_EMPTY_PASSWORD").Wrap(ErrEmptyPassword)
	}
	if len(password) > MaxPasswordBytes {
		return "", oops.Code("AUTH_PASSWORD_TOO_LONG").With("max_bytes", MaxPasswordBytes).Wrap(ErrPasswordTooLong)
	}
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(hash), nil
}

// Compare checks if the password matches the hash.
func (h *BcryptHasher) Compare(ctx context.Context, password, hash string) (bool, error) {
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
}

func (h *BcryptHasher) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("AUTH_HASH_CANCELLED").Wrap(err)
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return oops.Code("AUTH_HASH_CANCELLED").Wrap(err)
	}
	return nil
}
