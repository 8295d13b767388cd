// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/pkg/errutil"
)

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func viewOf(u auth.User) userView {
	return userView{ID: u.ID.String(), Email: u.Email}
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !a.decodeValid(w, r, &req) {
		a.metrics.Signup(observability.ResultInvalid)
		return
	}

	user, err := a.users.Create(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case auth.IsConflict(err):
		a.metrics.Signup(observability.ResultConflict)
		writeError(w, http.StatusConflict, "email already exists")
		return
	case errors.Is(err, auth.ErrPasswordTooLong), errors.Is(err, auth.ErrEmptyPassword):
		a.metrics.Signup(observability.ResultInvalid)
		writeError(w, http.StatusBadRequest, "password must be between 8 and 72 bytes")
		return
	default:
		a.metrics.Signup(observability.ResultError)
		a.internalError(w, r, "sign-up failed", err)
		return
	}

	a.metrics.Signup(observability.ResultSuccess)
	writeJSON(w, http.StatusCreated, viewOf(user))
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decodeValid(w, r, &req) {
		a.metrics.Login(observability.ResultInvalid)
		return
	}

	user, err := a.authn.Login(r.Context(), w, auth.Credentials{Email: req.Email, Password: req.Password})
	if auth.IsUnauthorized(err) {
		a.metrics.Login(observability.ResultRejected)
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}
	if err != nil {
		a.metrics.Login(observability.ResultError)
		a.internalError(w, r, "login failed", err)
		return
	}

	a.metrics.Login(observability.ResultSuccess)
	writeJSON(w, http.StatusOK, viewOf(*user))
}

func (a *API) logout(w http.ResponseWriter, _ *http.Request) {
	a.authn.Logout(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(id.User))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.List(r.Context())
	if err != nil {
		a.internalError(w, r, "list users failed", err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewOf(u))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	errutil.LogErrorContext(r.Context(), a.logger, msg, err)
	writeError(w, http.StatusInternalServerError, msgInternal)
}
