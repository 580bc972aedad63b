package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// GenerateToken signs an HS256 token for subject, valid for ttl. Production
// tokens come from the identity provider; this is for local clients and
// tests.
func GenerateToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})

	return token.SignedString([]byte(secret))
}
