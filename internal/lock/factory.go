package lock

import (
	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/storage"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// FromConfig builds the configured lease backend.
func FromConfig(config *conf.GlobalConfiguration, db *storage.Connection) (Locker, error) {
	switch config.Lock.Backend {
	case "postgres":
		return NewDBLocker(db), nil
	case "redis":
		opts, err := redis.ParseURL(config.Lock.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parsing lock redis url")
		}
		return NewRedisLocker(redis.NewClient(opts)), nil
	case "memory":
		return NewMemoryLocker(), nil
	default:
		return nil, errors.Errorf("unknown lock backend %q", config.Lock.Backend)
	}
}
