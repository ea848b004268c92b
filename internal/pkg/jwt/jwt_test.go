package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("secret")
	token, err := GenerateToken("desktop", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, "desktop", claims.ClientID)

	_, err = ParseToken(token, []byte("other"))
	require.Error(t, err)
}

func TestTokenExpired(t *testing.T) {
	token, err := GenerateToken("desktop", []byte("secret"), -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(token, []byte("secret"))
	require.Error(t, err)
}

func TestTokenNeedsClient(t *testing.T) {
	_, err := GenerateToken(" ", []byte("secret"), time.Hour)
	require.Error(t, err)
}
