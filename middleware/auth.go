package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"onboard-api/models"
	"onboard-api/utils"
)

const (
	ctxUserIDKey = "user_id"
	ctxEmailKey  = "user_email"
	ctxRoleKey   = "user_role"
)

// AuthMiddleware validates the bearer access token and stashes the caller's
// identity and role claim on the request context. Missing or invalid
// credentials end the request with 401 and the login entry point.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "login": "/login"})
			c.Abort()
			return
		}

		claims, err := utils.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "login": "/login"})
			c.Abort()
			return
		}

		c.Set(ctxUserIDKey, claims.UserID)
		c.Set(ctxEmailKey, claims.Email)
		c.Set(ctxRoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole is the per-resource allow-list check. A valid caller whose
// role is not listed gets 403 with a role-appropriate landing path so the
// SPA redirects instead of dead-ending; the payload itself stays withheld.
func RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		for _, r := range allowed {
			if role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Forbidden",
			"landing": models.LandingPath(role),
		})
		c.Abort()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserIDKey)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ctxRoleKey)
}
