// Package auth signs and verifies the bearer tokens of the web API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthDisabled is returned when no signing secret is configured.
	ErrAuthDisabled = errors.New("auth disabled")
	// ErrInvalidToken is returned for expired, malformed or tampered tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Service handles token signing and verification.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds a token helper with the given secret and expiry. A
// non-positive expiry issues tokens without an expiration claim.
func NewService(secret []byte, expiry time.Duration) *Service {
	return &Service{secret: secret, expiry: expiry}
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate issues a signed session token.
func (s *Service) Generate() (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "guenther-web",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	if s.expiry <= 0 {
		c.ExpiresAt = nil
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

// Validate checks signature and expiry of a session token.
func (s *Service) Validate(token string) error {
	if s == nil || len(s.secret) == 0 {
		return ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
