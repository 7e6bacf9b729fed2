// Package auth verifies the participant tokens issued by the account layer.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

// Claims is the JWT payload understood by the relay.
type Claims struct {
	Role          domain.SenderRole `json:"role"`
	Conversations []string          `json:"conversations,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: empty secret")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify parses token and returns its claims. Failures wrap domain.ErrUnauthorized.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", domain.ErrUnauthorized)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w: %w", domain.ErrUnauthorized, err)
	}

	if !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid token role %q: %w", claims.Role, domain.ErrUnauthorized)
	}
	return claims, nil
}

// Issue signs a token. Used by tests and the CLI in dev setups.
func (v *Verifier) Issue(subject string, role domain.SenderRole, conversations []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:          role,
		Conversations: conversations,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
