package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/service"
)

const eventStreamContentType = "text/event-stream"

// Metrics records request counts and latencies. Unmatched routes share one path
// label, and event streams are counted without a latency sample.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), eventStreamContentType) {
			metricsSvc.CountHTTPRequest(c.Request.Method, path, c.Writer.Status())
			return
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
