package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("u1", secret, time.Hour)
	require.NoError(t, err)
	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.User())

	_, err = ParseToken(token, []byte("other"))
	require.Error(t, err)
}

func TestParse_SubjectOnlyAndExpired(t *testing.T) {
	sub, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.RegisteredClaims{
		Subject:   "u9",
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(secret)
	require.NoError(t, err)
	claims, err := ParseToken(sub, secret)
	require.NoError(t, err)
	require.Equal(t, "u9", claims.User())

	expired, err := GenerateToken("u1", secret, -time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(expired, secret)
	require.Error(t, err)
}

func TestParse_RejectsOtherAlgorithms(t *testing.T) {
	none, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(none, secret)
	require.Error(t, err)

	anon, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{}).SignedString(secret)
	require.NoError(t, err)
	_, err = ParseToken(anon, secret)
	require.Error(t, err)
}
