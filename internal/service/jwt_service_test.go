package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTTokenService_RoundTrip(t *testing.T) {
	svc := NewJWTTokenService("test-secret-at-least-32-bytes-long", time.Hour, "payment-gateway-core")

	token, expiresAt, err := svc.Generate("admin")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	subject, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)
}

func TestJWTTokenService_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTTokenService("secret-one-0123456789-0123456789", time.Hour, "iss")
	verifier := NewJWTTokenService("secret-two-0123456789-0123456789", time.Hour, "iss")

	token, _, err := issuer.Generate("admin")
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	assert.Error(t, err)
}

func TestJWTTokenService_RejectsExpired(t *testing.T) {
	svc := NewJWTTokenService("test-secret-at-least-32-bytes-long", -time.Minute, "iss")

	token, _, err := svc.Generate("admin")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.Error(t, err)
}

func TestJWTTokenService_RejectsGarbage(t *testing.T) {
	svc := NewJWTTokenService("test-secret-at-least-32-bytes-long", time.Hour, "iss")
	_, err := svc.Validate("not.a.jwt")
	assert.Error(t, err)
}
