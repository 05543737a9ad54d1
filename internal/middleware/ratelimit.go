package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"classroom-qa/internal/metrics"
	"classroom-qa/internal/repository"
)

// RateLimit 返回一个 Gin 中间件，用于基于客户端 IP 地址进行粗粒度的速率限制。
// 按操作、按用户的配额由 service.RateLimiter 负责，这里只挡住异常流量。
// 计数存储不可用时放行。
func RateLimit(state repository.StateRepository, maxRequests int, window time.Duration) gin.HandlerFunc {
	if state == nil {
		panic("StateRepository cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		key := "http:" + c.ClientIP()

		exceeded, err := state.CheckRateLimit(c.Request.Context(), key, maxRequests, window)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("redis", "http_rate_limit").Inc()
			logrus.WithError(err).Error("RateLimit: counter store unavailable, allowing request")
			c.Next()
			return
		}
		if exceeded {
			metrics.RateLimitRejectionsTotal.WithLabelValues("http").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
