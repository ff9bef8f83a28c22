package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "aks:ratelimit:"

// RedisLimiter keeps one sorted set per key, scored by request time in
// milliseconds. The trim, count and add steps are separate round trips, so
// concurrent requests for one key can overshoot Max slightly.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	redisKey := l.prefix + key
	nowMS := now.UnixMilli()
	cutoff := nowMS - policy.Window.Milliseconds()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate window read: %w", err)
	}

	count := int(card.Val())
	if count >= policy.Max {
		oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("rate window oldest: %w", err)
		}
		oldestAt := now
		if len(oldest) > 0 {
			oldestAt = time.UnixMilli(int64(oldest[0].Score))
		}
		return rejected(policy, oldestAt, now), nil
	}

	pipe = l.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(nowMS),
		Member: strconv.FormatInt(nowMS, 10) + "-" + uuid.NewString(),
	})
	pipe.PExpire(ctx, redisKey, policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate window record: %w", err)
	}

	return allowed(policy, count, now), nil
}
