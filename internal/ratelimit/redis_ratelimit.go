package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFixedWindow is a fixed-window limiter backed by a shared Redis
// counter, so the limit holds across replicas. The key is INCRed and given a
// TTL of one window on first touch; the TTL doubles as the retry-after hint.
type RedisFixedWindow struct {
	client *redis.Client
	limit  int
	period time.Duration
	prefix string
}

func NewRedisFixedWindow(client *redis.Client, limit int, period time.Duration) *RedisFixedWindow {
	return &RedisFixedWindow{client: client, limit: limit, period: period, prefix: "ratelimit:allocate:"}
}

func (r *RedisFixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	k := r.prefix + key
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, k, r.period).Err(); err != nil {
			return Decision{}, err
		}
	}
	if n > int64(r.limit) {
		ttl, err := r.client.TTL(ctx, k).Result()
		if err != nil {
			return Decision{}, err
		}
		if ttl <= 0 {
			ttl = r.period
		}
		return Decision{RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}
