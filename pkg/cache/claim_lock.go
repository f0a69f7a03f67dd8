package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const claimLockPrefix = "claim:lock:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ClaimLocker serializes claim workflows per order id across worker replicas.
type ClaimLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewClaimLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ClaimLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ClaimLocker{client: client, ttl: ttl, logger: logger}
}

// Acquire takes the lock for orderID or fails with pkg.ErrClaimLocked. The returned release
// func is idempotent and never blocks longer than a second.
func (l *ClaimLocker) Acquire(ctx context.Context, orderID string) (func(), error) {
	key := claimLockPrefix + orderID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: claim lock: %w", err)
	}
	if !ok {
		return nil, pkg.ErrClaimLocked
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("claim lock release failed", zap.String(pkg.OrderID, orderID), zap.Error(err))
		}
	}, nil
}
