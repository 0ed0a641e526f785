package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formation-api/pkg/middleware/requestid"
)

const (
	responseMetaKey = "response_meta"
	cacheHitKey     = "cache_hit"
)

// WithResponseMeta prepares the per-request meta map that handlers attach to
// list responses.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Set(startedAtKey, time.Now())
		c.Next()
	}
}

const startedAtKey = "response_started_at"

// SetCacheHit records whether the payload came from the schedule cache.
func SetCacheHit(c *gin.Context, hit bool) {
	ensureMeta(c)[cacheHitKey] = hit
}

// ExtractMeta returns the meta map with timing and request id filled in.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	meta := ensureMeta(c)
	if started, ok := c.Get(startedAtKey); ok {
		if ts, ok := started.(time.Time); ok {
			meta["processing_time_ms"] = time.Since(ts).Milliseconds()
		}
	}
	if id := requestid.Value(c); id != "" {
		meta["request_id"] = id
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}
