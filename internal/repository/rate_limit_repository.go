package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimitRepository keeps fixed-window request counters in Redis.
type RateLimitRepository struct {
	client *redis.Client
}

// NewRateLimitRepository constructs the repository.
func NewRateLimitRepository(client *redis.Client) *RateLimitRepository {
	return &RateLimitRepository{client: client}
}

// Hit increments the counter for key and returns the new count together with
// the time left in the current window.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if r.client == nil {
		return 0, 0, fmt.Errorf("rate limit store: redis client not configured")
	}
	key = rateLimitKeyPrefix + key

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis pexpire %s: %w", key, err)
		}
		return count, window, nil
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis pttl %s: %w", key, err)
	}
	if ttl < 0 {
		// counter survived without expiry; start a fresh window
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis pexpire %s: %w", key, err)
		}
		ttl = window
	}
	return count, ttl, nil
}
