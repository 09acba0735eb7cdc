package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/learnsphere/course-market-api/utils/cache"
	"github.com/learnsphere/course-market-api/utils/response"
)

// RateLimiter throttles sensitive payment operations (receipt uploads,
// admin reviews) with per-user counters in Redis. The counters are
// shared state with a TTL, so the limit holds across multiple API
// instances.
type RateLimiter struct {
	redisCache *cache.RedisCache
	limit      int64
	window     time.Duration
	scope      string
}

// NewRateLimiter creates a rate limiter for the given scope
func NewRateLimiter(redisCache *cache.RedisCache, scope string, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redisCache: redisCache,
		limit:      limit,
		window:     window,
		scope:      scope,
	}
}

// Limit returns a middleware enforcing the configured limit per user
func (r *RateLimiter) Limit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// If Redis is unavailable, allow the request rather than
		// blocking legitimate users on a cache outage.
		if r.redisCache == nil {
			return c.Next()
		}

		userID, ok := GetUserID(c)
		if !ok {
			return c.Next()
		}

		key := fmt.Sprintf("rate_limit:%s:%d", r.scope, userID)

		count, err := r.redisCache.Increment(c.Context(), key)
		if err != nil {
			return c.Next()
		}

		// First hit in the window starts the TTL
		if count == 1 {
			if err := r.redisCache.Expire(c.Context(), key, r.window); err != nil {
				return c.Next()
			}
		}

		if count > r.limit {
			ttl, _ := r.redisCache.TTL(c.Context(), key)
			retryAfter := int(ttl.Seconds())
			if retryAfter < 0 {
				retryAfter = int(r.window.Seconds())
			}

			c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			return response.TooManyRequests(c,
				fmt.Sprintf("Too many requests. Try again in %d seconds", retryAfter))
		}

		return c.Next()
	}
}
