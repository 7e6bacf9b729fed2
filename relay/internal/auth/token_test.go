package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gigchat/relay/internal/domain"
)

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)

	token, err := v.Issue("user-1", domain.SenderRoleProvider, []string{"c1"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, domain.SenderRoleProvider, claims.Role)
	assert.Equal(t, []string{"c1"}, claims.Conversations)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)
	other, err := NewVerifier("other")
	require.NoError(t, err)

	expired, err := v.Issue("u", domain.SenderRoleSeeker, nil, -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue("u", domain.SenderRoleSeeker, nil, time.Minute)
	require.NoError(t, err)
	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "admin"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{Role: "seeker"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong secret": foreign,
		"unknown role": badRole,
		"wrong alg":    wrongAlg,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}
