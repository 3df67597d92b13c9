package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore tracks single-use values for replay protection. A nonce is
// new exactly once within its TTL.
type NonceStore struct {
	client *redis.Client
}

func NewNonceStore(client *redis.Client) *NonceStore {
	return &NonceStore{client: client}
}

// CheckAndSet returns true when the nonce has not been seen inside its
// scope. The SET NX is atomic, so concurrent callers agree on a single
// winner.
func (s *NonceStore) CheckAndSet(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, "nonce:"+scope+":"+nonce, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("storing nonce: %w", err)
	}
	return ok, nil
}
