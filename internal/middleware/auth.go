package middleware

import (
	"net/http"
	"strings"

	"identity/internal/pkg/jwt"
	"identity/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// TokenVerifier verifies an access token and returns its claims.
type TokenVerifier interface {
	Verify(token string, expected jwt.TokenType) (*jwt.Claims, error)
}

// Authenticate requires a header of the exact form "Bearer <token>":
// case-sensitive scheme, exactly one separating space. On success the
// caller's id and role are attached to the request context.
func Authenticate(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Missing Authorization header")
			c.Abort()
			return
		}

		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Error(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			c.Abort()
			return
		}

		claims, err := tokens.Verify(parts[1], jwt.TokenTypeAccess)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}
