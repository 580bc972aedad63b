package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger logs one line per request.
func Logger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if identity := c.GetString(IdentityKey); identity != "" {
			attrs = append(attrs, "identity", identity)
		}
		if len(c.Errors) > 0 {
			log.Error("Request failed", append(attrs, "errors", c.Errors.String())...)
			return
		}
		log.Debug("Request", attrs...)
	}
}
