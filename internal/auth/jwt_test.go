package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken("secret", "u1", "Ann", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Ann", claims.Name)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := NewToken("secret", "u1", "Ann", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken("other", tok)
	require.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	tok, err := NewToken("secret", "u1", "Ann", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("secret", tok)
	require.Error(t, err)
}

func TestIdentityFromToken(t *testing.T) {
	tok, err := NewToken("secret", "u1", "Ann", time.Hour)
	require.NoError(t, err)

	ident, err := IdentityFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "u1", Name: "Ann"}, ident)
}

func TestIdentityFromTokenRejectsExpired(t *testing.T) {
	tok, err := NewToken("secret", "u1", "Ann", -time.Minute)
	require.NoError(t, err)

	_, err = IdentityFromToken(tok)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestIdentityFromTokenRejectsGarbage(t *testing.T) {
	_, err := IdentityFromToken("not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("letmein")
	require.NoError(t, err)
	require.NoError(t, CheckPassword(hash, "letmein"))
	require.Error(t, CheckPassword(hash, "letmeout"))
}
