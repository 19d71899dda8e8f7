package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meditrack/reminder-api/pkg/logger"
)

// Logger logs every HTTP request with its latency and outcome.
func Logger(lg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		switch {
		case status >= 500:
			lg.Error(nil, "server error", fields...)
		case status >= 400:
			lg.Warn("client error", fields...)
		default:
			lg.Info("request processed", fields...)
		}
	}
}
