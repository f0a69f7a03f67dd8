package pkg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// DistributedLimiter caps calls per key (one key per carrier portal) across replicas.
// Each key has its own local token bucket, checked before Redis is consulted; the Redis
// counter is a fixed window of Window length shared by all replicas.
type DistributedLimiter struct {
	mu     sync.Mutex
	local  map[string]*rate.Limiter
	every  rate.Limit
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	logger *zap.Logger
}

// NewDistributedLimiter returns an unlimited limiter when perWindow <= 0. A nil client
// restricts enforcement to the local bucket.
func NewDistributedLimiter(client *redis.Client, prefix string, perWindow int, window time.Duration, logger *zap.Logger) *DistributedLimiter {
	if window <= 0 {
		window = time.Minute
	}
	d := &DistributedLimiter{
		client: client,
		prefix: prefix,
		limit:  int64(perWindow),
		window: window,
		logger: logger,
	}
	if perWindow > 0 {
		d.local = make(map[string]*rate.Limiter)
		d.every = rate.Every(window / time.Duration(perWindow))
	}
	return d
}

func (d *DistributedLimiter) bucket(key string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.local[key]
	if !ok {
		l = rate.NewLimiter(d.every, int(d.limit))
		d.local[key] = l
	}
	return l
}

// Allow consumes one token for key or returns ErrRateLimitExceeded.
func (d *DistributedLimiter) Allow(ctx context.Context, key string) error {
	if d.local == nil {
		return nil
	}
	key = strings.ToLower(key)
	if !d.bucket(key).Allow() {
		return ErrRateLimitExceeded
	}
	if d.client == nil {
		return nil
	}

	window := time.Now().UnixNano() / int64(d.window)
	redisKey := fmt.Sprintf("%s:%s:%d", d.prefix, key, window)

	pipe := d.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, d.window)
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Error("redis rate limit error; falling back to local", zap.String("key", key), zap.Error(err))
		return nil
	}
	if count := incr.Val(); count > d.limit {
		d.logger.Warn("global rate limit exceeded", zap.String("key", key), zap.Int64("count", count))
		return ErrRateLimitExceeded
	}
	return nil
}
