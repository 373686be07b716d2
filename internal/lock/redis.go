package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const retryInterval = 25 * time.Millisecond

// Redis implements Locker with SET NX PX. ttl bounds how long a crashed holder blocks others.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, log: logger.Named("lock")}
}

func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return r.releaser(key, token), nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(min(retryInterval, remaining)):
		}
	}
}

func (r *Redis) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
			if err != nil && !errors.Is(err, redis.Nil) {
				r.log.Warn("release failed", zap.String("key", key), zap.Error(err))
				return
			}
			if n == 0 {
				r.log.Warn("lock expired before release", zap.String("key", key))
			}
		})
	}
}
