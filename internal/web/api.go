// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package web exposes the authentication API over HTTP.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/observability"
)

// Authenticator is the session side of the API.
type Authenticator interface {
	Login(ctx context.Context, w http.ResponseWriter, creds auth.Credentials) (*auth.User, error)
	Authenticate(ctx context.Context, r *http.Request) (context.Context, *auth.User, error)
	Logout(w http.ResponseWriter)
}

// UserService is the account side of the API.
type UserService interface {
	Create(ctx context.Context, email, password string) (auth.User, error)
	List(ctx context.Context) ([]auth.User, error)
}

// API holds the handlers and their collaborators.
type API struct {
	authn    Authenticator
	users    UserService
	metrics  *observability.Metrics
	validate *validator.Validate
	logger   *slog.Logger
	// secureDev relaxes the security headers for plain-http development.
	secureDev bool
}

// Option configures an API.
type Option func(*API)

// WithMetrics records request and auth metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithDevelopmentHeaders disables the HTTPS-only security headers.
func WithDevelopmentHeaders() Option {
	return func(a *API) { a.secureDev = true }
}

// NewAPI creates an API with logging discarded.
func NewAPI(authn Authenticator, users UserService, opts ...Option) (*API, error) {
	return NewAPIWithLogger(authn, users, slog.New(slog.DiscardHandler), opts...)
}

// NewAPIWithLogger creates an API that logs through logger.
func NewAPIWithLogger(authn Authenticator, users UserService, logger *slog.Logger, opts ...Option) (*API, error) {
	if authn == nil {
		return nil, oops.Errorf("authenticator is required")
	}
	if users == nil {
		return nil, oops.Errorf("user service is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	a := &API{
		authn:    authn,
		users:    users,
		validate: newValidator(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Routes builds the router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(a.recoverer)
	r.Use(secureHeaders(a.secureDev))
	r.Use(a.instrument)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/users", a.signUp)
		r.Post("/login", a.login)
		r.Post("/logout", a.logout)
		r.With(a.requireAuth).Get("/me", a.me)
	})
	r.With(a.requireAuth).Get("/users", a.listUsers)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
