package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Options tunes the CORS response headers.
type Options struct {
	AllowedOrigins []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAgeSeconds  int
}

var defaultHeaders = []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"}

// New returns a CORS middleware that honors a list of allowed origins.
func New(allowedOrigins []string) gin.HandlerFunc {
	return WithOptions(Options{AllowedOrigins: allowedOrigins})
}

// WithOptions builds the middleware from explicit options. An empty origin list allows all origins.
func WithOptions(opts Options) gin.HandlerFunc {
	allowAll := len(opts.AllowedOrigins) == 0
	originSet := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		originSet[strings.TrimRight(origin, "/")] = struct{}{}
	}
	headers := opts.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultHeaders
	}
	maxAge := opts.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = 600
	}
	allowHeaders := strings.Join(headers, ", ")
	exposeHeaders := strings.Join(append([]string{"X-Request-ID", "Content-Disposition"}, opts.ExposedHeaders...), ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if allowAll || hasOrigin(originSet, origin) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			}
		} else if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		c.Writer.Header().Set("Access-Control-Expose-Headers", exposeHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func hasOrigin(originSet map[string]struct{}, origin string) bool {
	if len(originSet) == 0 {
		return true
	}

	origin = strings.TrimRight(origin, "/")
	_, ok := originSet[origin]
	return ok
}
