package middleware

import (
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/tenant"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := log.Fields{
			"request_id": c.GetString(RequestIDKey),
			"method":     method,
			"path":       path,
			"status":     statusCode,
			"latency":    latency,
			"client_ip":  c.ClientIP(),
		}
		if id, ok := tenant.FromContext(c); ok {
			fields["tenant_id"] = id.TenantID
		}

		entry := log.WithFields(fields)
		switch {
		case statusCode >= 500:
			entry.Error("request failed")
		case statusCode >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request handled")
		}
	}
}
