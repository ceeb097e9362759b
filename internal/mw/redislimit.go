package mw

import (
	"context"
	"net/http"
	"time"

	"chatroom/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// WindowLimiter 是基于 Redis 的固定窗口计数器，多个实例共享同一限额。
type WindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

// Allow 在 Redis 不可用时放行，避免限流器成为单点故障。
func (l *WindowLimiter) Allow(ctx context.Context, key string) bool {
	k := l.prefix + ":" + key
	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("key", k).Msg("redis rate limit")
		return true
	}
	return incr.Val() <= l.limit
}

// RedisRateLimit 按 IP+路由 计数，用于登录等需要跨实例限流的接口。
func RedisRateLimit(l *WindowLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientIP(c.Request.RemoteAddr) + "|" + c.FullPath()
		if !l.Allow(c.Request.Context(), key) {
			metrics.RateLimited.WithLabelValues("login").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// NewRedisClient 解析 REDIS_URL 并确认连接可用。
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
