package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindowLimiter enforces the per-user rolling window across nodes with
// a sorted-set sliding window: one member per admitted request scored by
// its timestamp, pruned on every check.
type RedisWindowLimiter struct {
	rdb    redis.UniversalClient
	limits RateLimits
	prefix string
}

// NewRedisWindowLimiter creates a limiter on an existing Redis client.
func NewRedisWindowLimiter(rdb redis.UniversalClient, limits RateLimits) *RedisWindowLimiter {
	limits.applyDefaults()
	return &RedisWindowLimiter{rdb: rdb, limits: limits, prefix: "bukoai:ratelimit:"}
}

func (l *RedisWindowLimiter) Allow(ctx context.Context, userID string, op Operation) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", l.prefix, userID, op)
	now := time.Now().UnixMilli()
	windowStart := now - l.limits.Window.Milliseconds()

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", userID, err)
	}

	if countCmd.Val() >= int64(l.limits.limitFor(op)) {
		return false, nil
	}

	record := l.rdb.Pipeline()
	record.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: uuid.NewString(),
	})
	record.Expire(ctx, key, l.limits.Window)
	if _, err := record.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit record for %s: %w", userID, err)
	}
	return true, nil
}
