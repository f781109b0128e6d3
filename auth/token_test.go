package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	syncerr "chat-sync/errors"
)

func signedToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func Test_Inspect_Accepts_A_Live_Token(t *testing.T) {
	req := require.New(t)
	token := signedToken(t, jwt.RegisteredClaims{
		Subject:   "me",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	req.NoError(Inspect(token))
}

func Test_Inspect_Accepts_A_Token_Without_Expiry(t *testing.T) {
	req := require.New(t)
	token := signedToken(t, jwt.RegisteredClaims{Subject: "me"})
	req.NoError(Inspect(token))
}

func Test_Inspect_Rejects_An_Expired_Token(t *testing.T) {
	req := require.New(t)
	token := signedToken(t, jwt.RegisteredClaims{
		Subject:   "me",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	req.ErrorIs(Inspect(token), syncerr.ErrAuth)
}

func Test_Inspect_Rejects_Garbage(t *testing.T) {
	req := require.New(t)
	req.ErrorIs(Inspect("not-a-token"), syncerr.ErrAuth)
}

func Test_UserID_Extracts_The_Subject(t *testing.T) {
	req := require.New(t)
	token := signedToken(t, jwt.RegisteredClaims{Subject: "user-42"})

	userID, err := UserID(token)
	req.NoError(err)
	req.Equal("user-42", userID)
}

func Test_UserID_Requires_A_Subject(t *testing.T) {
	req := require.New(t)
	token := signedToken(t, jwt.RegisteredClaims{})

	_, err := UserID(token)
	req.ErrorIs(err, syncerr.ErrAuth)
}
