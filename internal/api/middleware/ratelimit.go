package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"produse/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Limiter 按键判断是否放行，拒绝时返回建议等待时长。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimit 按客户端 IP 和路由限流。限流器出错时放行并记录日志。
func RateLimit(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		allowed, wait, err := limiter.Allow(ctx, route+":"+c.ClientIP())
		cancel()
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("route", route), slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			retry := int(math.Ceil(wait.Seconds()))
			if retry < 1 {
				retry = 1
			}
			metrics.RateLimitRejectedTotal.WithLabelValues(route).Inc()
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "retry_after": retry})
			return
		}
		c.Next()
	}
}
