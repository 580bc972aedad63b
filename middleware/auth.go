package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// IdentityKey is the gin context key holding the verified user id.
const IdentityKey = "userID"

// UserIDHeader is set by the upstream API gateway once it has verified the
// caller.
const UserIDHeader = "X-User-Id"

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidToken      = errors.New("invalid token")
)

// IdentityVerifier turns a request credential into a user id.
type IdentityVerifier interface {
	Credential(r *http.Request) string
	Verify(credential string) (string, error)
}

// JWTVerifier accepts HS256 bearer tokens. The identity is the sub claim,
// or user_id when sub is absent.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Credential reads the bearer token from the Authorization header, or from
// the token query parameter since browsers cannot set headers on websocket
// handshakes.
func (v *JWTVerifier) Credential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (v *JWTVerifier) Verify(credential string) (string, error) {
	if credential == "" {
		return "", ErrMissingCredential
	}

	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	switch id := claims["user_id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	}
	return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
}

// HeaderVerifier trusts the X-User-Id header. Only use it behind a gateway
// that strips the header from client requests.
type HeaderVerifier struct{}

func (HeaderVerifier) Credential(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

func (HeaderVerifier) Verify(credential string) (string, error) {
	if credential == "" {
		return "", ErrMissingCredential
	}
	return credential, nil
}

// Auth rejects requests without a verifiable identity and stores the
// identity under IdentityKey.
func Auth(verifier IdentityVerifier, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(verifier.Credential(c.Request))
		if err != nil {
			log.Debug("Unauthenticated request", "path", c.Request.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set(IdentityKey, identity)
		c.Next()
	}
}
