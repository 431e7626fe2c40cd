package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetricsMiddleware собирает метрики для HTTP запросов.
// Скрейп /metrics и долгие WebSocket соединения не учитываются.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "/metrics" || strings.HasPrefix(path, "/ws/") {
			c.Next()
			return
		}
		if path == "" {
			path = "unknown"
		}
		start := time.Now()
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
