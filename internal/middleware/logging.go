package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoclient/internal/observ"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request through zap instead of gin's
// default writer, so bridge access logs share the client's log format.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := observ.Component(logger, "bridge")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
