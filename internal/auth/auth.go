// Package auth mints and validates the bearer tokens fleetd's operator API
// requires on its stats and action routes. The health, ping, version and
// agent identity (ident) routes take no token.
//
// There are no interactive operator accounts: an operator holds a token
// minted offline (via the "token issue" CLI subcommand) against a shared
// signing secret. This is a deliberately smaller surface than the teacher's
// multi-tenant login flow — see DESIGN.md for why bcrypt-backed accounts
// don't apply here.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrUnauthorized is returned for any invalid, expired, or malformed
	// token.
	ErrUnauthorized = errors.New("unauthorized")
)

// Claims identifies the operator a token was minted for.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and validates operator tokens against a single shared HMAC
// secret.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds an auth Service. An empty secret is not rejected: tokens
// are then signed and verified with an empty HMAC key. Enabled reports this
// case so callers can warn loudly about it at startup.
func NewService(secret string, expiry time.Duration) *Service {
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	return &Service{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether a signing secret was configured.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// IssueToken mints a signed token for the given operator subject and role.
func (s *Service) IssueToken(subject, role string) (string, error) {
	claims := &Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a bearer token, returning its claims.
func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
