package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/intellicollab/chat-relay/utils"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJWTVerifier_Verify(t *testing.T) {
	verifier := NewJWTVerifier(secret)

	t.Run("should accept a token minted for the subject", func(t *testing.T) {
		req := require.New(t)
		token, err := utils.GenerateToken(secret, "alice", time.Hour)
		req.NoError(err)

		identity, err := verifier.Verify(token)

		req.NoError(err)
		req.Equal("alice", identity)
	})

	t.Run("should fall back to the user_id claim", func(t *testing.T) {
		req := require.New(t)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": float64(42),
			"exp":     time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		req.NoError(err)

		identity, err := verifier.Verify(token)

		req.NoError(err)
		req.Equal("42", identity)
	})

	t.Run("should reject bad tokens", func(t *testing.T) {
		expired, err := utils.GenerateToken(secret, "alice", -time.Minute)
		require.NoError(t, err)
		foreign, err := utils.GenerateToken("other-secret", "alice", time.Hour)
		require.NoError(t, err)
		anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{}).SignedString([]byte(secret))
		require.NoError(t, err)

		tests := map[string]struct {
			token string
			want  error
		}{
			"empty":      {"", ErrMissingCredential},
			"garbage":    {"not-a-jwt", ErrInvalidToken},
			"expired":    {expired, ErrInvalidToken},
			"wrong key":  {foreign, ErrInvalidToken},
			"no subject": {anonymous, ErrInvalidToken},
		}
		for name, tt := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := verifier.Verify(tt.token)
				require.ErrorIs(t, err, tt.want)
			})
		}
	})
}

func TestJWTVerifier_Credential(t *testing.T) {
	req := require.New(t)
	verifier := NewJWTVerifier(secret)

	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	req.Equal("from-query", verifier.Credential(r))

	r.Header.Set("Authorization", "Bearer from-header")
	req.Equal("from-header", verifier.Credential(r))

	r.Header.Set("Authorization", "Basic abc")
	req.Empty(verifier.Credential(r))
}

func TestAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", Auth(NewJWTVerifier(secret), quietLogger()), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(IdentityKey))
	})

	t.Run("should attach the identity", func(t *testing.T) {
		req := require.New(t)
		token, err := utils.GenerateToken(secret, "alice", time.Hour)
		req.NoError(err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, r)

		req.Equal(http.StatusOK, w.Code)
		req.Equal("alice", w.Body.String())
	})

	t.Run("should answer 401 without a token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHeaderVerifier(t *testing.T) {
	req := require.New(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := HeaderVerifier{}.Verify(HeaderVerifier{}.Credential(r))
	req.ErrorIs(err, ErrMissingCredential)

	r.Header.Set(UserIDHeader, " bob ")
	identity, err := HeaderVerifier{}.Verify(HeaderVerifier{}.Credential(r))
	req.NoError(err)
	req.Equal("bob", identity)
}
