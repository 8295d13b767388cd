// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package auth

import (
	"errors"
	"net/http"
	"time"
)

// CookieName is the cookie the session token travels in.
const CookieName = "Authentication"

// CookieTransport writes and reads the session cookie.
type CookieTransport struct {
	// Secure restricts the cookie to HTTPS. Disable only for local development.
	Secure bool
}

// Write sets the cookie to carry tok until it expires.
func (c CookieTransport) Write(w http.ResponseWriter, tok IssuedToken) {
	cookie := c.base()
	cookie.Value = tok.Value
	cookie.Expires = tok.ExpiresAt
	http.SetCookie(w, cookie)
}

// Read returns the token from the request cookie. A missing or empty cookie
// is ErrUnauthorized.
func (c CookieTransport) Read(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && cookie.Value == "") {
		return "", unauthorized("AUTH_TOKEN_MISSING", "no session cookie")
	}
	if err != nil {
		return "", unauthorized("AUTH_TOKEN_MISSING", "unreadable session cookie")
	}
	return cookie.Value, nil
}

// Clear expires the cookie in the client.
func (c CookieTransport) Clear(w http.ResponseWriter) {
	cookie := c.base()
	cookie.Expires = time.Unix(0, 0)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

func (c CookieTransport) base() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
