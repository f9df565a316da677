package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nbspibalcontin/ChatApplication/internal/services"
)

type RateLimitMiddleware struct {
	limiter *services.RateLimitService
	logger  *slog.Logger
}

func NewRateLimitMiddleware(limiter *services.RateLimitService, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

// PerIP throttles by client IP. A failing limiter backend fails open: losing
// rate limiting is preferable to refusing every connection.
func (rm *RateLimitMiddleware) PerIP(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rate_limit:ws:%s", c.ClientIP())

		allowed, err := rm.limiter.Allow(c.Request.Context(), key, requests, window)
		if err != nil {
			rm.logger.Warn("rate limit check failed, allowing request", "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Too many requests. Limit: %d per %v", requests, window),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
