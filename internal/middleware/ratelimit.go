package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/service"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/response"
)

// RateLimitStore counts hits per key inside a fixed window.
type RateLimitStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimiter enforces per-caller fixed window limits. When the shared store
// fails it degrades to process-local counters.
type RateLimiter struct {
	store    RateLimitStore
	fallback *MemoryRateLimitStore
	logger   *zap.Logger
	metrics  *service.MetricsService
}

// NewRateLimiter constructs a limiter. A nil store uses memory only.
func NewRateLimiter(store RateLimitStore, logger *zap.Logger, metrics *service.MetricsService) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, fallback: NewMemoryRateLimitStore(), logger: logger, metrics: metrics}
}

// Limit allows max requests per window for each caller within scope.
func (l *RateLimiter) Limit(scope string, max int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":" + callerKey(c)
		count, ttl, err := l.hit(c.Request.Context(), key, window)
		if err != nil {
			l.logger.Warn("rate limit unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		remaining := int64(max) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(max))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(math.Ceil(ttl.Seconds())), 10))

		if count > int64(max) {
			l.metrics.RecordRateLimited(scope)
			response.Abort(c, appErrors.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if l.store != nil {
		count, ttl, err := l.store.Hit(ctx, key, window)
		if err == nil {
			return count, ttl, nil
		}
		l.logger.Warn("rate limit store failed, using memory", zap.String("key", key), zap.Error(err))
	}
	return l.fallback.Hit(ctx, key, window)
}

func callerKey(c *gin.Context) string {
	if claims := CurrentClaims(c); claims != nil && claims.UserID != "" {
		return claims.UserID
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// memorySweepThreshold is the entry count above which expired windows are swept.
const memorySweepThreshold = 1024

type windowCounter struct {
	count   int64
	resetAt time.Time
}

// MemoryRateLimitStore is a process-local fixed window counter.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*windowCounter
	now     func() time.Time
}

// NewMemoryRateLimitStore constructs an empty store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{entries: make(map[string]*windowCounter), now: time.Now}
}

// Hit increments key and returns the count and time left in its window.
func (s *MemoryRateLimitStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.entries) > memorySweepThreshold {
		for k, entry := range s.entries {
			if !now.Before(entry.resetAt) {
				delete(s.entries, k)
			}
		}
	}

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = &windowCounter{resetAt: now.Add(window)}
		s.entries[key] = entry
	}
	entry.count++
	return entry.count, entry.resetAt.Sub(now), nil
}
