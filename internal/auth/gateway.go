// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/pkg/errutil"
)

// Credentials are the email and password presented at login. Never stored
// or logged.
type Credentials struct {
	Email    string
	Password string
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("email", c.Email))
}

// Gateway runs the login and authenticate-request flows.
type Gateway struct {
	directory *Directory
	tokens    *TokenService
	transport CookieTransport
	logger    *slog.Logger
}

// NewGateway creates a Gateway with a no-op logger.
// Returns an error if any required dependency is nil.
func NewGateway(directory *Directory, tokens *TokenService, transport CookieTransport) (*Gateway, error) {
	return NewGatewayWithLogger(directory, tokens, transport, slog.New(slog.DiscardHandler))
}

// NewGatewayWithLogger creates a Gateway with the provided logger.
// Returns an error if any required dependency is nil.
func NewGatewayWithLogger(directory *Directory, tokens *TokenService, transport CookieTransport, logger *slog.Logger) (*Gateway, error) {
	if directory == nil {
		return nil, oops.Errorf("user directory is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token service is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Gateway{
		directory: directory,
		tokens:    tokens,
		transport: transport,
		logger:    logger,
	}, nil
}

// Login verifies creds, issues a token and writes it to the response
// cookie. It is the only path that issues tokens.
func (g *Gateway) Login(ctx context.Context, w http.ResponseWriter, creds Credentials) (*User, error) {
	user, err := g.directory.Verify(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}

	tok, err := g.tokens.Issue(user)
	if err != nil {
		return nil, oops.With("user_id", user.ID.String()).Wrap(err)
	}
	g.transport.Write(w, tok)

	g.logger.Info("login succeeded", "user_id", user.ID.String())
	return &user, nil
}

// Authenticate resolves the request's session cookie to a user. The
// returned context carries the Identity for downstream handlers.
func (g *Gateway) Authenticate(ctx context.Context, r *http.Request) (context.Context, *User, error) {
	value, err := g.transport.Read(r)
	if err != nil {
		return ctx, nil, g.reject(err)
	}

	payload, err := g.tokens.Validate(value)
	if err != nil {
		return ctx, nil, g.reject(err)
	}

	user, err := g.directory.GetUser(ctx, document.ByID(payload.UserID))
	if document.IsNotFound(err) {
		return ctx, nil, g.reject(unauthorized("AUTH_SUBJECT_GONE", "token subject no longer exists"))
	}
	if err != nil {
		return ctx, nil, oops.Code("AUTH_AUTHENTICATE_FAILED").
			With("user_id", payload.UserID.String()).
			Wrap(err)
	}

	ctx = WithIdentity(ctx, Identity{User: user, TokenExpiresAt: payload.ExpiresAt})
	return ctx, &user, nil
}

// Logout expires the session cookie. Tokens already issued stay valid until
// their expiry.
func (g *Gateway) Logout(w http.ResponseWriter) {
	g.transport.Clear(w)
}

func (g *Gateway) reject(err error) error {
	g.logger.Debug("authentication rejected", "code", errutil.Code(err))
	return err
}
