package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared across gateway instances.
// Redis errors fail open: a broken limiter backend must not take the
// gateway down with it.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedis(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: "rankgate:reqs",
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	windowSecs := int64(l.window.Seconds())
	slot := time.Now().Unix() / windowSecs
	k := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0
	}

	if incr.Val() > int64(l.limit) {
		retry := time.Duration((slot+1)*windowSecs-time.Now().Unix()) * time.Second
		return false, retry
	}
	return true, 0
}
