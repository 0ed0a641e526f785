package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/response"
)

// RedisWindow counts requests per key in fixed one-minute windows shared by
// every API instance. When Redis is unreachable it falls back to a local
// token bucket so the public endpoints stay protected.
type RedisWindow struct {
	client   *redis.Client
	prefix   string
	max      int
	fallback *TokenBucket
	logger   *zap.Logger
	now      func() time.Time
}

// NewRedisWindow allows max requests per key and minute.
func NewRedisWindow(client *redis.Client, prefix string, max int, logger *zap.Logger) *RedisWindow {
	if max <= 0 {
		max = 60
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWindow{
		client:   client,
		prefix:   prefix,
		max:      max,
		fallback: NewTokenBucket(max, max),
		logger:   logger,
		now:      time.Now,
	}
}

// Allow increments the counter of the current window for key.
func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().UTC().Truncate(time.Minute)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, time.Minute+5*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.max), nil
}

// Middleware enforces per-client-IP limits.
func (l *RedisWindow) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}

		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			l.logger.Warn("rate limit store unavailable, using local limiter", zap.Error(err))
			allowed = l.fallback.Allow(key)
		}
		if !allowed {
			response.Error(c, appErrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
