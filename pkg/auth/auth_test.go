package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "docs-reader",
		Issuer:    "consumerdocs",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func TestJWTValidator(t *testing.T) {
	v, err := NewJWTValidator(JWTConfig{SecretKey: secret, Issuer: "consumerdocs"})
	require.NoError(t, err)

	claims, err := v.ValidateToken("Bearer " + sign(t, secret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "docs-reader", claims.Subject)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err = v.ValidateToken(sign(t, secret, expired))
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = v.ValidateToken(sign(t, "other-secret", validClaims()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"
	_, err = v.ValidateToken(sign(t, secret, wrongIssuer))
	assert.ErrorIs(t, err, ErrInvalidClaims)

	noSubject := validClaims()
	noSubject.Subject = ""
	_, err = v.ValidateToken(sign(t, secret, noSubject))
	assert.ErrorIs(t, err, ErrInvalidClaims)

	_, err = v.ValidateToken("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = v.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTValidator_RequiresSecret(t *testing.T) {
	_, err := NewJWTValidator(JWTConfig{})
	assert.Error(t, err)
}

func TestSlidingWindowLimiter(t *testing.T) {
	l := NewSlidingWindowLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "keys are limited independently")

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok, "window slides")

	now = now.Add(2 * time.Minute)
	l.Prune()
	assert.Empty(t, l.windows)
}
