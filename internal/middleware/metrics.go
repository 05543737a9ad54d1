package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"classroom-qa/internal/metrics"
)

// Metrics 记录每个请求的计数和耗时，按路由模板而不是实际路径打标签
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
