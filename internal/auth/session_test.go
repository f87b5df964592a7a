// internal/auth/session_test.go
package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndVerifyToken(t *testing.T) {
	Init("15m")

	token, err := CreateToken(Session{UserID: "u1", RoomCode: "ABCD", IsHost: true})
	require.NoError(t, err)

	s, err := VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "ABCD", s.RoomCode)
	assert.True(t, s.IsHost)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	Init("never")
	_, err := VerifyToken("not.a.token")
	assert.Error(t, err)
}

func TestTokenInvalidAfterKeyRotation(t *testing.T) {
	Init("never")
	token, err := CreateToken(Session{UserID: "u1", RoomCode: "ABCD"})
	require.NoError(t, err)

	// A restart mints a fresh key pair; old tokens stop verifying.
	Init("never")
	_, err = VerifyToken(token)
	assert.Error(t, err)
}
