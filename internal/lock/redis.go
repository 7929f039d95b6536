package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when token still holds it, so a
// release after expiry-and-reacquire cannot free someone else's lease.
var releaseScript = redis.NewScript(
	`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)

// RedisLocker stores leases as SET NX PX keys.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", errors.Wrap(err, "error acquiring lock lease")
	}
	if !ok {
		return "", ErrNotAcquired
	}
	return token, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "error releasing lock lease")
	}
	return nil
}
