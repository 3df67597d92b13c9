package service

import (
	"context"
	"sync"
	"time"
)

type lockEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryLocker implements ports.Locker with process-local named locks.
// It mirrors the Redis locker's semantics (TTL expiry, owner-fenced
// release) so single-node deployments can run without Redis.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]lockEntry),
		now:   time.Now,
	}
}

// Acquire takes the named lock for owner if it is free or expired.
// It does not block; callers poll.
func (l *MemoryLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.locks[key]; ok && now.Before(cur.expiresAt) {
		// Re-entrant for the same owner: extend the TTL.
		if cur.owner == owner {
			l.locks[key] = lockEntry{owner: owner, expiresAt: now.Add(ttl)}
			return true, nil
		}
		return false, nil
	}

	l.locks[key] = lockEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release frees the named lock if owner still holds it. Releasing a
// lock held by someone else, or an expired lock, is a no-op.
func (l *MemoryLocker) Release(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.locks[key]
	if !ok {
		return nil
	}
	if cur.owner != owner {
		return nil
	}
	delete(l.locks, key)
	return nil
}

// Held reports whether key is currently locked, for tests.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.locks[key]
	return ok && l.now().Before(cur.expiresAt)
}
