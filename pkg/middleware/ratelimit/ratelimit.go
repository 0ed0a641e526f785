package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/response"
)

// TokenBucket is an in-memory per-key limiter refilled at a fixed rate per minute.
type TokenBucket struct {
	capacity int
	rate     int
	idleTTL  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	state map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates a limiter with capacity tokens refilled at perMinute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if perMinute <= 0 {
		perMinute = 60
	}
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Middleware enforces per-client-IP limits.
func (l *TokenBucket) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if !l.Allow(key) {
			response.Error(c, appErrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Allow consumes one token for key.
func (l *TokenBucket) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.state[key]
	if !ok {
		l.evictIdle(now)
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}

	refill := int(now.Sub(b.last).Minutes() * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func (l *TokenBucket) evictIdle(now time.Time) {
	for key, b := range l.state {
		if now.Sub(b.last) > l.idleTTL {
			delete(l.state, key)
		}
	}
}
