package lock

import (
	"context"
	"time"

	"github.com/devstreak/sync/internal/storage"
	"github.com/pkg/errors"
)

// DBLocker stores leases in the lock_leases table. Acquisition is a single
// atomic insert-or-steal-expired statement, so concurrent acquirers cannot
// both succeed.
type DBLocker struct {
	db *storage.Connection
}

func NewDBLocker(db *storage.Connection) *DBLocker {
	return &DBLocker{db: db}
}

func (l *DBLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	count, err := l.db.WithContext(ctx).RawQuery(
		"INSERT INTO lock_leases (key, token, expires_at) VALUES (?, ?, ?)"+
			" ON CONFLICT (key) DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at"+
			" WHERE lock_leases.expires_at < now()",
		key, token, time.Now().Add(ttl),
	).ExecWithCount()
	if err != nil {
		return "", errors.Wrap(err, "error acquiring lock lease")
	}
	if count == 0 {
		return "", ErrNotAcquired
	}
	return token, nil
}

func (l *DBLocker) Release(ctx context.Context, key string, token string) error {
	err := l.db.WithContext(ctx).RawQuery(
		"DELETE FROM lock_leases WHERE key = ? AND token = ?",
		key, token,
	).Exec()
	if err != nil {
		return errors.Wrap(err, "error releasing lock lease")
	}
	return nil
}
