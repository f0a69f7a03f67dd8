package utils

import (
	"math/rand/v2"
	"time"
)

// RetryDelay returns base*2^(attempt-1) with up to ±12.5% jitter, capped at limit.
// attempt is 1-based; attempt <= 0 yields no delay.
func RetryDelay(attempt int, base, limit time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	if spread := int64(delay / 4); spread > 0 {
		delay += time.Duration(rand.Int64N(spread+1)) - delay/8
	}
	return min(delay, limit)
}
