package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// rateLimitMiddleware enforces the configured per-minute/per-hour
// ceilings per client IP, rejecting over-limit requests with a 429 and
// a Retry-After header before any handler runs.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		decision := s.limiter.Allow(c.ClientIP())
		c.Header("X-RateLimit-Remaining-Minute", strconv.Itoa(decision.RemainingMinute))
		c.Header("X-RateLimit-Remaining-Hour", strconv.Itoa(decision.RemainingHour))
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
			writeErr(c, 429, "rate_limited", "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
