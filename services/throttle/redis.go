package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/sjsfi/lms/core"
)

const window = time.Minute

// RedisLimiter counts attempts per key in fixed one-minute windows shared by every API process.
type RedisLimiter struct {
	rdb       redis.Cmdable
	prefix    string
	perMinute int64
}

func NewRedisLimiter(rdb redis.Cmdable, prefix string, perMinute int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, perMinute: int64(perMinute)}
}

// NewRedisClient connects to conf.Redis and pings it.
func NewRedisClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

func (l *RedisLimiter) key(key string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, now.Unix()/int64(window/time.Second))
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.key(key, nowFunc())

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, window+10*time.Second)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "counting attempt")
	}
	return incr.Val() <= l.perMinute, nil
}
