package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// slogRequestLogger logs each request's method, path, status and latency.
func slogRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		if logger != nil {
			logger.Info("admin request",
				"method", method,
				"path", path,
				"status", c.Writer.Status(),
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		}
	}
}

// requireAPIKey enforces a shared-secret API key via the X-API-Key
// header. An empty expected key disables the check entirely.
func requireAPIKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" || c.GetHeader("X-API-Key") == expected {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
}
