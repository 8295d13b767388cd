// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/internal/document/memory"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/web"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	dir      *auth.Directory
	gateway  *auth.Gateway
	registry *prometheus.Registry
	handler  http.Handler
	logs     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(memory.WithUniqueIndex(auth.UsersCollection, "email"))
	users, err := document.NewRepository[auth.User](store, auth.UsersCollection)
	require.NoError(t, err)
	dir, err := auth.NewDirectory(users, auth.NewBcryptHasher(auth.WithCost(bcrypt.MinCost)))
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	gateway, err := auth.NewGateway(dir, tokens, auth.CookieTransport{Secure: true})
	require.NoError(t, err)

	f := &fixture{dir: dir, gateway: gateway, registry: prometheus.NewRegistry(), logs: &bytes.Buffer{}}
	f.handler = f.api(t, dir)
	return f
}

func (f *fixture) api(t *testing.T, users web.UserService) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	api, err := web.NewAPIWithLogger(f.gateway, users, logger,
		web.WithMetrics(observability.NewMetrics(f.registry)))
	require.NoError(t, err)
	return api.Routes()
}

func (f *fixture) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, f.handler, method, path, body, cookies...)
}

func do(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type userJSON struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type errorJSON struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.CookieName)
	return nil
}

// counter sums a counter family's samples carrying label result=value.
func counter(t *testing.T, reg *prometheus.Registry, name, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestNewAPI_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := web.NewAPI(nil, f.dir)
	require.Error(t, err)
	_, err = web.NewAPI(f.gateway, nil)
	require.Error(t, err)
	_, err = web.NewAPIWithLogger(f.gateway, f.dir, nil)
	require.Error(t, err)
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/users", `{"email":"Alice@Example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[userJSON](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = f.do(t, http.MethodPost, "/auth/users", `{"email":"alice@example.com","password":"another-one"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already exists", decode[errorJSON](t, rec).Error)

	assert.InDelta(t, 1, counter(t, f.registry, "tokengate_signups_total", observability.ResultSuccess), 0)
	assert.InDelta(t, 1, counter(t, f.registry, "tokengate_signups_total", observability.ResultConflict), 0)
}

func TestSignUp_BadRequests(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "malformed json", body: `{"email":`},
		{name: "unknown field", body: `{"email":"a@example.com","password":"long-enough","admin":true}`},
		{name: "trailing data", body: `{"email":"a@example.com","password":"long-enough"} {}`},
		{name: "invalid email", body: `{"email":"not-an-email","password":"long-enough"}`, wantField: "email"},
		{name: "short password", body: `{"email":"a@example.com","password":"short"}`, wantField: "password"},
		{name: "long password", body: `{"email":"a@example.com","password":"` + strings.Repeat("p", 73) + `"}`, wantField: "password"},
		{name: "missing password", body: `{"email":"a@example.com"}`, wantField: "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/auth/users", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[errorJSON](t, rec)
			if tt.wantField != "" {
				assert.Contains(t, body.Fields, tt.wantField)
			} else {
				assert.Equal(t, "invalid request body", body.Error)
			}
		})
	}
}

func TestSignUp_MultibytePasswordOverByteLimit(t *testing.T) {
	f := newFixture(t)

	// 40 characters but 80 bytes: passes the length rule, fails the hasher.
	password := strings.Repeat("é", 40)
	rec := f.do(t, http.MethodPost, "/auth/users", `{"email":"a@example.com","password":"`+password+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated,
		f.do(t, http.MethodPost, "/auth/users", `{"email":"alice@example.com","password":"correct-horse"}`).Code)

	t.Run("valid credentials set the cookie", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-horse"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice@example.com", decode[userJSON](t, rec).Email)

		c := sessionCookie(t, rec)
		assert.NotEmpty(t, c.Value)
		assert.True(t, c.HttpOnly)
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		wrong := f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"wrong-horse"}`)
		unknown := f.do(t, http.MethodPost, "/auth/login", `{"email":"nobody@example.com","password":"correct-horse"}`)

		for _, rec := range []*httptest.ResponseRecorder{wrong, unknown} {
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
			assert.Empty(t, rec.Result().Cookies())
		}
	})

	t.Run("empty password is a bad request", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.InDelta(t, 1, counter(t, f.registry, "tokengate_logins_total", observability.ResultSuccess), 0)
	assert.InDelta(t, 2, counter(t, f.registry, "tokengate_logins_total", observability.ResultRejected), 0)
}

func TestProtectedRoutes(t *testing.T) {
	f := newFixture(t)
	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		require.Equal(t, http.StatusCreated,
			f.do(t, http.MethodPost, "/auth/users", `{"email":"`+email+`","password":"correct-horse"}`).Code)
	}
	login := f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, login.Code)
	cookie := sessionCookie(t, login)

	t.Run("me without a cookie", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/auth/me", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
	})

	t.Run("me with a tampered cookie", func(t *testing.T) {
		bad := &http.Cookie{Name: auth.CookieName, Value: cookie.Value + "x"}
		assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/auth/me", "", bad).Code)
	})

	t.Run("me with the session", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/auth/me", "", cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice@example.com", decode[userJSON](t, rec).Email)
	})

	t.Run("users list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/users", "", cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		listed := decode[[]userJSON](t, rec)
		require.Len(t, listed, 2)
		assert.Equal(t, "alice@example.com", listed[0].Email)
		assert.Equal(t, "bob@example.com", listed[1].Email)
	})

	assert.InDelta(t, 2, counter(t, f.registry, "tokengate_authentications_total", observability.ResultSuccess), 0)
	assert.InDelta(t, 2, counter(t, f.registry, "tokengate_authentications_total", observability.ResultRejected), 0)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	c := sessionCookie(t, rec)
	assert.Empty(t, c.Value)
	assert.Negative(t, c.MaxAge)
}

type failingUsers struct {
	err   error
	panic bool
}

func (u failingUsers) Create(context.Context, string, string) (auth.User, error) {
	return auth.User{}, u.err
}

func (u failingUsers) List(context.Context) ([]auth.User, error) {
	if u.panic {
		panic("list exploded")
	}
	return nil, u.err
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	f := newFixture(t)
	h := f.api(t, failingUsers{err: errors.New("connection refused to db-7.internal")})

	rec := do(t, h, http.MethodPost, "/auth/users", `{"email":"a@example.com","password":"long-enough"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Contains(t, f.logs.String(), "sign-up failed")
	assert.Contains(t, f.logs.String(), "db-7.internal")
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated,
		f.do(t, http.MethodPost, "/auth/users", `{"email":"alice@example.com","password":"correct-horse"}`).Code)
	cookie := sessionCookie(t, f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-horse"}`))

	h := f.api(t, failingUsers{panic: true})
	rec := do(t, h, http.MethodGet, "/users", "", cookie)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, f.logs.String(), "HTTP_PANIC")
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/auth/login", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
