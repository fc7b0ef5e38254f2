package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole aborts with 403 unless the authenticated caller holds the role.
// Must run after JWTAuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Caller(c).HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}
