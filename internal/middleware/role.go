package middleware

import (
	"net/http"
	"strconv"

	"identity/internal/domain"
	"identity/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// RequireRole ensures that the authenticated user has the specified role
func RequireRole(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Role not found in token")
			c.Abort()
			return
		}

		if role.(string) != requiredRole {
			response.Error(c, http.StatusForbidden, "FORBIDDEN", "Access denied: insufficient permissions")
			c.Abort()
			return
		}

		c.Next()
	}
}

// AdminOnly middleware requires admin role
func AdminOnly() gin.HandlerFunc {
	return RequireRole(string(domain.RoleAdmin))
}

// SelfOrAdmin passes admins through; everyone else must address their
// own id in the "id" path param, compared as exact strings. A missing
// param is Forbidden by policy, not a format error.
func SelfOrAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Role not found in token")
			c.Abort()
			return
		}
		if role.(string) == string(domain.RoleAdmin) {
			c.Next()
			return
		}

		targetID := c.Param("id")
		if targetID == "" {
			response.Error(c, http.StatusForbidden, "FORBIDDEN", "Access denied")
			c.Abort()
			return
		}

		callerID := c.GetInt64("user_id")
		if targetID != strconv.FormatInt(callerID, 10) {
			response.Error(c, http.StatusForbidden, "FORBIDDEN", "Access denied")
			c.Abort()
			return
		}

		c.Next()
	}
}
