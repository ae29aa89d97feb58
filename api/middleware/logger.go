// Package middleware provides gin middleware for the terminal server.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/httpterm/internal/metrics"
)

// RequestLogger logs every request at debug level and records its latency.
// Polling clients hit the output endpoint several times a second, so access
// logs stay below info.
func RequestLogger(log *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), duration.Seconds())

		if ce := log.Check(zap.DebugLevel, "HTTP request"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("session_id", c.Query("session_id")),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.String("client_ip", c.ClientIP()),
			)
		}
	}
}
