package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitService implements a sliding-window counter in redis, keyed per
// caller, used to throttle websocket upgrades.
type RateLimitService struct {
	client *redis.Client
}

func NewRateLimitService(client *redis.Client) *RateLimitService {
	return &RateLimitService{client: client}
}

// Allow reports whether the caller identified by key is within limit
// requests per window. Errors are returned so the middleware can decide to
// fail open.
func (s *RateLimitService) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return count.Val() < int64(limit), nil
}
