package auth

import (
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestExtractTokenFromRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)

	_, err := ExtractTokenFromRequest(req)
	assert.Error(t, err, "missing header")

	req.Header.Set("Authorization", "Basic abc123")
	_, err = ExtractTokenFromRequest(req)
	assert.Error(t, err, "wrong scheme")

	req.Header.Set("Authorization", "Bearer tok-123")
	token, err := ExtractTokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	// Scheme comparison is case-insensitive.
	req.Header.Set("Authorization", "bearer tok-456")
	token, err = ExtractTokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "tok-456", token)
}

func TestExtractUserIDFromJWT(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "user-1"})
	sub, err := ExtractUserIDFromJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	_, err = ExtractUserIDFromJWT("")
	assert.Error(t, err)

	_, err = ExtractUserIDFromJWT("not-a-jwt")
	assert.Error(t, err)

	noSub := signedToken(t, jwt.MapClaims{"aud": "checkout"})
	_, err = ExtractUserIDFromJWT(noSub)
	assert.Error(t, err)
}
