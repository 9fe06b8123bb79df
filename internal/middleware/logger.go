package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		fields := logrus.Fields{
			"status":    statusCode,
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"latency":   latency,
			"ip":        c.ClientIP(),
			"principal": Principal(c),
		}
		if depth := c.GetHeader("Depth"); depth != "" {
			fields["depth"] = depth
		}

		entry := logger.WithFields(fields)
		switch {
		case statusCode >= 500:
			entry.Error("request processed")
		case statusCode >= 400:
			entry.Warn("request processed")
		default:
			entry.Info("request processed")
		}
	}
}

func RecoveryMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logrus.Fields{
					"error":  err,
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
				}).Error("panic recovered")
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}
