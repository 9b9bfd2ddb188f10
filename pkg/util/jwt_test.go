package util

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhive/pkg/rbac"
)

func TestJWT_RoundTripCarriesRoles(t *testing.T) {
	token, err := GenerateJWT(rbac.Principal{UserID: 42, Roles: []string{rbac.RoleUser, rbac.RoleAdmin}}, "secret", time.Hour)
	require.NoError(t, err)

	p, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, 42, p.UserID)
	assert.True(t, p.IsAdmin())
}

func TestParseJWT_Rejects(t *testing.T) {
	token, err := GenerateJWT(rbac.Principal{UserID: 1}, "secret", time.Hour)
	require.NoError(t, err)

	_, err = ParseJWT(token, "other-secret")
	assert.Error(t, err)

	expired, err := GenerateJWT(rbac.Principal{UserID: 1}, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(expired, "secret")
	assert.Error(t, err)

	_, err = ParseJWT("not-a-token", "secret")
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(r))
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter2", hash))
	assert.False(t, CheckPassword("hunter3", hash))
}
