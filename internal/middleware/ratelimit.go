package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ClassifyRateLimit 单用户每分钟的分类请求上限
	ClassifyRateLimit = 120

	// ClassifyRateWindow 限流窗口
	ClassifyRateWindow = time.Minute
)

// RateCounter 基于固定窗口的计数器，窗口内首次递增时设置过期
type RateCounter interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitByUser 按用户限流分类请求，需在 RequireAuth 之后挂载
func RateLimitByUser(counter RateCounter, limit int64, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:%s", c.FullPath(), userID)
		count, err := counter.IncrementRateLimit(c.Request.Context(), key, window)
		if err != nil {
			// 计数失败时放行，限流不应成为单点故障
			log.Warn("rate limit counter failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > limit {
			log.Warn("rate limit exceeded",
				zap.String("userID", userID),
				zap.String("path", c.FullPath()),
				zap.Int64("count", count),
			)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
