package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// BearerAuth enforces the served-boundary auth rule: the Authorization
// header must be exactly "Bearer <token>" where token matches the
// configured token file's contents, trimmed of surrounding whitespace.
// Grounded on the original implementation's bearer middleware. When
// tokenPath is empty, auth was explicitly disabled at startup and this
// middleware is not installed at all.
func BearerAuth(tokenPath string) (gin.HandlerFunc, error) {
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(string(data))

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header != bearerPrefix+token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}, nil
}
