package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServiceKeyHeader carries the shared service key
const ServiceKeyHeader = "X-Service-Key"

// ServiceAuthMiddleware creates middleware to authenticate service-to-service
// calls. An empty serviceKey disables the check.
func ServiceAuthMiddleware(serviceKey string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceKey == "" {
			c.Next()
			return
		}

		headerKey := c.GetHeader(ServiceKeyHeader)
		if headerKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Service key required"})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(headerKey), []byte(serviceKey)) != 1 {
			logger.Warn("Invalid service key",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid service key"})
			c.Abort()
			return
		}

		c.Next()
	}
}
