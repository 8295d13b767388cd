// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"
	"github.com/unrolled/secure"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/pkg/errutil"
)

func secureHeaders(development bool) func(http.Handler) http.Handler {
	return secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		STSSeconds:            31536000,
		STSIncludeSubdomains:  true,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         development,
	}).Handler
}

// requireAuth rejects requests without a valid session and attaches the
// identity for the rest.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _, err := a.authn.Authenticate(r.Context(), r)
		if auth.IsUnauthorized(err) {
			a.metrics.Authentication(observability.ResultRejected)
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if err != nil {
			a.metrics.Authentication(observability.ResultError)
			a.internalError(w, r, "authentication failed", err)
			return
		}
		a.metrics.Authentication(observability.ResultSuccess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument records request latency by route pattern and logs the request.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		a.metrics.Request(route, r.Method, status, elapsed)
		a.logger.DebugContext(r.Context(), "request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// recoverer turns a handler panic into a 500 and an error log.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel re-panicked as-is
				panic(rec)
			}
			err := oops.Code("HTTP_PANIC").
				With("method", r.Method).
				With("path", r.URL.Path).
				Errorf("panic: %v", rec)
			errutil.LogErrorContext(r.Context(), a.logger, "handler panicked", err)
			writeError(w, http.StatusInternalServerError, msgInternal)
		}()
		next.ServeHTTP(w, r)
	})
}
