package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"estados/internal/redis"
	"estados/internal/services"
	"estados/internal/transport/httpdto"
	"estados/pkg/logger"
)

// Limiter is satisfied by redis.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, action redis.RateLimitAction, subject string) (*redis.RateLimitResult, error)
}

// RateLimitMiddleware limits action per signed-in user. It must run after
// AuthMiddleware. A nil limiter disables limiting, and limiter failures let the
// request through.
func RateLimitMiddleware(limiter Limiter, action redis.RateLimitAction, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := limiter.Allow(c.Request.Context(), action, userID.String())
		if err != nil {
			if l != nil {
				l.WithContext(c.Request.Context()).Warn("rate limit check", zap.String("action", string(action)), zap.Error(err))
			}
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(string(action)+" rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	if result.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
