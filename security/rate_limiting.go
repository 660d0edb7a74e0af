package security

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// WebhookRateLimit caps payment callback traffic per caller. The
// gateway retries settlements, so the ceiling is generous.
func (r *RateLimiter) WebhookRateLimit() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &redisStore{redis: r.redis, limit: 120, window: time.Minute},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			clientID := c.Request().Header.Get("X-Client-Id")
			if clientID != "" {
				return fmt.Sprintf("client:%s", clientID), nil
			}
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(429, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		},
	})
}

// redisStore is a fixed-window counter behind the echo rate limiter
// interface. Counting errors fail open so a Redis outage does not
// drop settlements.
type redisStore struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func (s *redisStore) Allow(identifier string) (bool, error) {
	ctx := context.Background()
	key := fmt.Sprintf("ratelimit:%s", identifier)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, nil
	}
	if count == 1 {
		s.redis.Expire(ctx, key, s.window)
	}
	return count <= s.limit, nil
}
