package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fixfirst/web/internal/ratelimit"
)

// RateLimitMiddleware throttles requests per client IP.
func RateLimitMiddleware(limiter ratelimit.Limiter, limit int, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := limiter.Allow(c.Request.Context(), scope+":"+c.ClientIP(), limit)

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter(time.Now()).Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "BFF_RATE_LIMITED",
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
