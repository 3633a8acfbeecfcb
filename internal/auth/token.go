// Package auth supplies bearer credentials for remote checklist calls.
//
// Session management lives outside this module; the agent only needs a
// token to attach to each request. Tokens that look like JWTs are checked
// for expiry before use so that an expired session surfaces as a distinct
// error instead of a wasted round trip.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoCredentials is returned when no token has been configured.
	ErrNoCredentials = errors.New("auth: no credentials configured")

	// ErrExpired is returned when the configured token is a JWT whose exp
	// claim is in the past.
	ErrExpired = errors.New("auth: credentials expired")
)

// TokenSource returns the bearer token for the next remote call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource holding a single token that can be
// replaced at runtime when the session collaborator refreshes it.
type StaticToken struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

// NewStaticToken creates a token source for the given token.
func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: strings.TrimSpace(token), now: time.Now}
}

// Set replaces the held token.
func (s *StaticToken) Set(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

// Token returns the held token. Opaque tokens are returned as-is.
func (s *StaticToken) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", ErrNoCredentials
	}
	if exp, ok := ExpiresAt(token); ok && !exp.After(s.now()) {
		return "", ErrExpired
	}
	return token, nil
}

// ExpiresAt reports the exp claim of a JWT without verifying its
// signature. The issuer verifies tokens; the client only needs to know
// whether sending one is pointless. Returns false for opaque tokens and
// JWTs without an exp claim.
func ExpiresAt(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
