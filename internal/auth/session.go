// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// privateKey and publicKey sign and verify room capability tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenExpireSec is how many seconds until token expiration (0 => never).
	tokenExpireSec int
)

// Session identifies a caller inside one room: the userId, the room the
// token is scoped to, and whether the user is that room's host. This is the
// whole of authentication in the service; there are no accounts.
type Session struct {
	UserID   string
	RoomCode string
	IsHost   bool
}

// Init generates a fresh ed25519 key pair at runtime and parses the token
// expiration setting ("never", "0", or empty meaning no expiry; otherwise a
// duration string such as "72h").
func Init(expire string) {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Printf("failed to generate ed25519 key pair: %v\n", err)
		os.Exit(1)
	}
	if expire == "never" || expire == "0" || expire == "" {
		tokenExpireSec = 0
		return
	}
	d, err := time.ParseDuration(expire)
	if err != nil {
		fmt.Printf("failed to parse token expire time: %v\n", err)
		os.Exit(1)
	}
	tokenExpireSec = int(d.Seconds())
}

// CreateToken signs a capability token for the given session. Tokens are
// scoped to a single room; a client joining two rooms holds two tokens.
func CreateToken(s Session) (string, error) {
	claims := jwt.MapClaims{
		"sub":  s.UserID,
		"room": s.RoomCode,
		"host": s.IsHost,
	}
	if tokenExpireSec > 0 {
		claims["exp"] = time.Now().Add(time.Duration(tokenExpireSec) * time.Second).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// VerifyToken verifies a capability token and returns the session it carries.
func VerifyToken(tokenString string) (Session, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return Session{}, fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, fmt.Errorf("invalid jwt claims")
	}
	var s Session
	if s.UserID, ok = claims["sub"].(string); !ok {
		return Session{}, fmt.Errorf("missing sub in jwt")
	}
	if s.RoomCode, ok = claims["room"].(string); !ok {
		return Session{}, fmt.Errorf("missing room in jwt")
	}
	s.IsHost, _ = claims["host"].(bool)
	return s, nil
}
