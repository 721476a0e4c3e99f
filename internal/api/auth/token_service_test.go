package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)

	user := &User{ID: 42, Email: "ops@example.com", Name: "Ops", Role: RoleManager}
	token, expiresAt, err := ts.CreateAccessToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	ac, err := ts.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ac.UserID)
	assert.Equal(t, "ops@example.com", ac.Email)
	assert.Equal(t, "Ops", ac.Name)
	assert.Equal(t, RoleManager, ac.Role)
}

func TestAccessTokenWrongSecret(t *testing.T) {
	token, _, err := NewTokenService("secret-a", time.Hour).CreateAccessToken(&User{ID: 1, Role: RoleAdmin})
	require.NoError(t, err)

	_, err = NewTokenService("secret-b", time.Hour).ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestAccessTokenExpired(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)
	ts.AccessTokenDuration = -time.Minute

	token, _, err := ts.CreateAccessToken(&User{ID: 1, Role: RoleAdmin})
	require.NoError(t, err)

	_, err = ts.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestAccessTokenGarbage(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)

	_, err := ts.ValidateAccessToken("not-a-token")
	assert.Error(t, err)
}

func TestAccessTokenUnknownRole(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)

	token, _, err := ts.CreateAccessToken(&User{ID: 1, Role: "superuser"})
	require.NoError(t, err)

	_, err = ts.ValidateAccessToken(token)
	assert.Error(t, err)
}
