// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package auth

import (
	"context"
	"time"
)

// Identity is the authenticated principal of a request.
type Identity struct {
	User           User
	TokenExpiresAt time.Time
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by Gateway.Authenticate.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
