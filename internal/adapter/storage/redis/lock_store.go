package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when the stored owner matches,
// so a holder that outlived its TTL cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore implements named locks on Redis with SET NX PX and an
// owner-fenced release. It backs the in-process locker when the gateway
// runs more than one instance.
type LockStore struct {
	client *redis.Client
	prefix string
}

func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client, prefix: "lock:"}
}

// Acquire try-acquires the lock. A second acquire by the same owner
// extends the TTL instead of failing.
func (s *LockStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	full := s.prefix + key
	ok, err := s.client.SetNX(ctx, full, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if ok {
		return true, nil
	}
	current, err := s.client.Get(ctx, full).Result()
	if err == redis.Nil {
		// Holder expired between SETNX and GET; let the caller retry.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading lock %s: %w", key, err)
	}
	if current != owner {
		return false, nil
	}
	if err := s.client.PExpire(ctx, full, ttl).Err(); err != nil {
		return false, fmt.Errorf("extending lock %s: %w", key, err)
	}
	return true, nil
}

// Release frees the lock if owner still holds it. Releasing a lock held
// by someone else, or not held at all, is a no-op.
func (s *LockStore) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing lock %s: %w", key, err)
	}
	return nil
}
