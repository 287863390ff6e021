package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the shared secret on every control-plane request.
const APIKeyHeader = "x-api-key"

// RequireAPIKey guards a route group with shared secrets. A missing header
// is 401, a mismatch is 403. Any of the given keys is accepted; empty keys
// are skipped so an unset admin key never matches the empty string.
func RequireAPIKey(keys ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(APIKeyHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "API key required",
			})
			return
		}

		for _, key := range keys {
			if key != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Invalid API key",
		})
	}
}
