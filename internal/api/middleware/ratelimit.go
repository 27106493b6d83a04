package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const limiterPrefix = "aktibguard_limiter"

// NewMemoryStore returns a process-local limiter store.
func NewMemoryStore() limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          limiterPrefix,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
}

// NewRedisStore returns a limiter store shared by every server using the
// same Redis.
func NewRedisStore(client *redis.Client) (limiter.Store, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: limiterPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis limiter store: %w", err)
	}
	return store, nil
}

// NewRateLimiter creates a Gin middleware allowing requests per period for
// each client IP. A nil store means an in-memory store.
func NewRateLimiter(requests int64, period time.Duration, store limiter.Store) (gin.HandlerFunc, error) {
	if requests <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d: must be positive", requests)
	}
	if period <= 0 {
		return nil, fmt.Errorf("invalid rate limit period %s: must be positive", period)
	}
	if store == nil {
		store = NewMemoryStore()
	}

	rate := limiter.Rate{
		Period: period,
		Limit:  requests,
	}
	instance := limiter.New(store, rate)

	return mgin.NewMiddleware(instance, mgin.WithLimitReachedHandler(func(c *gin.Context) {
		c.AbortWithStatusJSON(429, gin.H{"error": "rate limit exceeded"})
	})), nil
}
