package lock

import (
	"context"
	"sync"
	"time"
)

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is a process-local Locker used in tests and single-node
// development setups.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.leases[key]; ok && now.Before(lease.expiresAt) {
		return "", ErrNotAcquired
	}
	l.leases[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

func (l *MemoryLocker) Release(ctx context.Context, key string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.leases[key]; ok && lease.token == token {
		delete(l.leases, key)
	}
	return nil
}
