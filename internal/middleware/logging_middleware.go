package middleware

import (
	"strconv"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ledger-api/internal/monitoring"
)

// RequestLogging logs every request once, after the handler ran, and
// records the HTTP metrics. Health and metrics probes are skipped.
func RequestLogging(logger *logrus.Logger, metrics *monitoring.Metrics) gin.HandlerFunc {
	skip := map[string]bool{
		"/health":  true,
		"/metrics": true,
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		if metrics != nil {
			metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(status), duration)
		}

		fields := logrus.Fields{
			"request_id":  requestid.Get(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"client_ip":   c.ClientIP(),
		}
		if userID := c.GetInt64("user_id"); userID != 0 {
			fields["user_id"] = userID
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		entry := logger.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request completed")
		}
	}
}
