// Package lock provides short-lived mutual-exclusion leases keyed by a
// logical resource, used to serialize background work per connection.
//
// The guarantee is at-most-weakly-exclusive: a lease self-expires after its
// TTL so a crashed holder cannot deadlock the key, which also means a
// subsequent acquirer may proceed while an abnormally slow prior holder is
// still executing. TTLs must exceed the expected job duration with margin.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

// ErrNotAcquired signals that another holder currently owns the lease.
// Callers must treat it as "work already in flight" and return early.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker hands out time-bounded leases. At most one live, non-expired lease
// exists per key.
type Locker interface {
	// Acquire makes a single non-blocking attempt to take the lease and
	// returns an opaque holder token, or ErrNotAcquired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Release frees the lease if token still holds it. Releasing an
	// expired or foreign lease is a no-op, not an error.
	Release(ctx context.Context, key string, token string) error
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "error generating lock token")
	}
	return hex.EncodeToString(b), nil
}

// Do runs fn while holding the lease for key, releasing it on every exit
// path including panics and fn errors. The fn error is returned after the
// release so callers' retry machinery still fires. When the lease is not
// acquired it returns ErrNotAcquired without running fn.
func Do(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func() error) error {
	token, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// release with a fresh context so a canceled job still frees
		// the lease
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = locker.Release(releaseCtx, key, token)
	}()
	return fn()
}
