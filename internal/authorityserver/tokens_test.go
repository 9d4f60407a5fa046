package authorityserver

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) *AdminAuth {
	t.Helper()
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	auth, err := NewAdminAuth("admin", hash, "secret", time.Hour)
	require.NoError(t, err)
	return auth
}

func TestAdminAuthLoginAndVerify(t *testing.T) {
	auth := newTestAuth(t)

	token, expires, err := auth.Login("admin", "pw")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	subject, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)
}

func TestAdminAuthRejects(t *testing.T) {
	auth := newTestAuth(t)

	_, _, err := auth.Login("admin", "nope")
	assert.ErrorIs(t, err, errInvalidCredentials)

	token, _, err := auth.Login("admin", "pw")
	require.NoError(t, err)

	other, err := NewAdminAuth("admin", "", "another-secret", time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.Error(t, err, "signature from a different secret")

	_, _, err = other.Login("admin", "pw")
	assert.ErrorIs(t, err, errInvalidCredentials, "login disabled without a hash")

	auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = auth.Verify(token)
	assert.Error(t, err, "expired")
}

func TestAdminAuthRejectsNonAdminRole(t *testing.T) {
	auth := newTestAuth(t)
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "device",
		"role": "device",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = auth.Verify(signed)
	assert.Error(t, err)
}

func TestNewAdminAuthRequiresSecret(t *testing.T) {
	_, err := NewAdminAuth("admin", "", "", time.Hour)
	assert.Error(t, err)
}
