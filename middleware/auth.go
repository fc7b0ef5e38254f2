package middleware

import (
	"net/http"
	"strings"

	"medibook/models"
	"medibook/utils"

	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// JWTAuthMiddleware validates the bearer token and attaches the caller's
// identity to the request context.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := utils.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token subject"})
			return
		}

		caller := models.CallerIdentity{UserID: sub}
		if raw, ok := claims["roles"].([]interface{}); ok {
			for _, r := range raw {
				if role, ok := r.(string); ok {
					caller.Roles = append(caller.Roles, role)
				}
			}
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// Caller retrieves the identity set by JWTAuthMiddleware. The zero identity
// means the route was not behind auth.
func Caller(c *gin.Context) models.CallerIdentity {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(models.CallerIdentity); ok {
			return caller
		}
	}
	return models.CallerIdentity{}
}
