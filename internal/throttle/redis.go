package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Counter = (*RedisCounter)(nil)

// KeyPrefix namespaces throttle keys in a shared Redis.
const KeyPrefix = "throttle:"

// RedisCounter counts with INCR and sets the TTL on the first increment, so
// Redis drops the key when the window ends.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

// NewRedisClient creates a client and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("throttle: connecting to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Incr runs INCR and EXPIRE NX in one MULTI/EXEC: the first increment arms
// the TTL, later ones leave it alone, and no key can exist without one.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := KeyPrefix + key

	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis INCR %s: %w", k, err)
	}
	return incr.Val(), nil
}
