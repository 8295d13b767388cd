// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tokengate/tokengate/internal/document"
)

// UsersCollection is the document collection users are stored in.
const UsersCollection = "users"

// User is a principal that can log in.
type User struct {
	ID           ulid.ULID `json:"_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DocumentID implements document.Entity.
func (u User) DocumentID() ulid.ULID { return u.ID }

// LogValue keeps the password hash out of structured logs.
func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID.String()),
		slog.String("email", u.Email),
	)
}

// UserRepository is the persistence Directory needs.
// *document.Repository[User] satisfies it.
type UserRepository interface {
	Create(ctx context.Context, user User) (User, error)
	FindOne(ctx context.Context, filter document.Filter) (User, error)
	Find(ctx context.Context, filter document.Filter) ([]User, error)
}

// NormalizeEmail trims and lower-cases an address so lookups and the unique
// index agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ByEmail returns a filter selecting the user with the given address.
func ByEmail(email string) document.Filter {
	return document.Filter{"email": NormalizeEmail(email)}
}
