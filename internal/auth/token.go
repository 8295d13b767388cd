// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = time.Hour

// MinSecretBytes is the shortest signing secret accepted for HS256.
const MinSecretBytes = 32

// TokenPayload is what a valid token asserts.
type TokenPayload struct {
	UserID    ulid.ULID
	ExpiresAt time.Time
}

// IssuedToken is a signed token and the instant it stops being valid.
type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now for issuing and validating.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// TokenService signs and validates HS256 session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. A ttl <= 0 means DefaultTokenTTL.
func NewTokenService(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, oops.Code("AUTH_SIGNING_KEY_MISSING").Errorf("token signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &TokenService{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for user.
func (s *TokenService) Issue(user User) (IssuedToken, error) {
	// JWT dates have second precision; truncate so the cookie and the claim agree.
	now := s.now().Truncate(time.Second)
	expiresAt := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID: user.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Validate verifies signature and expiry and returns the payload. Every
// failure is ErrUnauthorized.
func (s *TokenService) Validate(value string) (TokenPayload, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(value, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return TokenPayload{}, unauthorized("AUTH_TOKEN_EXPIRED", "token expired")
	}
	if err != nil {
		return TokenPayload{}, unauthorized("AUTH_TOKEN_INVALID", "token is not valid")
	}

	userID, err := ulid.ParseStrict(claims.UserID)
	if err != nil {
		return TokenPayload{}, unauthorized("AUTH_TOKEN_INVALID", "token subject is not valid")
	}
	return TokenPayload{UserID: userID, ExpiresAt: claims.ExpiresAt.Time}, nil
}
