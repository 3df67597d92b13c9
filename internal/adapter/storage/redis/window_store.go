package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowStore counts events in fixed minute and hour windows. Keys roll
// over with the wall clock and expire shortly after their window ends.
type WindowStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewWindowStore(client *redis.Client) *WindowStore {
	return &WindowStore{client: client, now: time.Now}
}

// Allow increments both windows for key and reports whether the event
// stays within perMinute and perHour. Counters are incremented even
// for denied events, matching a strict limiter: a flood keeps the
// window saturated.
func (s *WindowStore) Allow(ctx context.Context, key string, perMinute, perHour int) (bool, error) {
	now := s.now().UTC()
	minuteKey := fmt.Sprintf("window:%s:m:%s", key, now.Format("200601021504"))
	hourKey := fmt.Sprintf("window:%s:h:%s", key, now.Format("2006010215"))

	pipe := s.client.TxPipeline()
	minuteCount := pipe.Incr(ctx, minuteKey)
	pipe.Expire(ctx, minuteKey, 2*time.Minute)
	hourCount := pipe.Incr(ctx, hourKey)
	pipe.Expire(ctx, hourKey, 2*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("counting window %s: %w", key, err)
	}

	if perMinute > 0 && minuteCount.Val() > int64(perMinute) {
		return false, nil
	}
	if perHour > 0 && hourCount.Val() > int64(perHour) {
		return false, nil
	}
	return true, nil
}
