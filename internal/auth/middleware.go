package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// Middleware authenticates a request by the bearer token in the Authorization
// header, or the `token` query parameter since browsers cannot set headers on a
// WebSocket upgrade. When the `id` query parameter is present it must match the
// token's user. On success the user id is stored in the gin context.
func Middleware(ts *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := ts.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if raw := c.Query("id"); raw != "" {
			claimed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || !ts.CheckToken(claimed, tokenString) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token does not match user"})
				return
			}
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the user id set by Middleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
