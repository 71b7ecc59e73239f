package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	logger "github.com/aegis-authz/aegis/logging"
)

// Logger is a middleware that logs incoming HTTP requests, including the
// authenticated identity when one is attached.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)

		identityID := ""
		if identity, ok := CurrentIdentity(c); ok {
			identityID = identity.ID
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("identityID", identityID),
		}

		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
			logger.Warn("Request denied", fields...)
			return
		}
		logger.Info("Request processed", fields...)
	}
}
