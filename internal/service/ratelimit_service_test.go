package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(policies []RateLimitPolicy) (*RateLimiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(policies, nil, zerolog.Nop())
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimiter_WindowLimit(t *testing.T) {
	l, now := newTestLimiter([]RateLimitPolicy{
		{Name: "p", MaxRequests: 3, WindowSize: time.Minute, BlockDuration: 30 * time.Second},
	})

	for i := 0; i < 3; i++ {
		d := l.Check("p", "team:acme")
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := l.Check("p", "team:acme")
	require.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	// Blocked even though the count would have allowed it.
	*now = now.Add(10 * time.Second)
	d = l.Check("p", "team:acme")
	require.False(t, d.Allowed)
	assert.Equal(t, 20*time.Second, d.RetryAfter)

	// Block expiry: window has also rolled over by then.
	*now = now.Add(55 * time.Second)
	d = l.Check("p", "team:acme")
	assert.True(t, d.Allowed)
}

func TestRateLimiter_WindowRollover(t *testing.T) {
	l, now := newTestLimiter([]RateLimitPolicy{
		{Name: "p", MaxRequests: 2, WindowSize: time.Minute, BlockDuration: time.Minute},
	})

	require.True(t, l.Check("p", "ip:10.0.0.1").Allowed)
	require.True(t, l.Check("p", "ip:10.0.0.1").Allowed)

	*now = now.Add(time.Minute)
	d := l.Check("p", "ip:10.0.0.1")
	require.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining, "count resets with the window")
}

func TestRateLimiter_IdentifiersIndependent(t *testing.T) {
	l, _ := newTestLimiter([]RateLimitPolicy{
		{Name: "p", MaxRequests: 1, WindowSize: time.Minute, BlockDuration: time.Minute},
	})

	require.True(t, l.Check("p", "team:a").Allowed)
	require.False(t, l.Check("p", "team:a").Allowed)
	assert.True(t, l.Check("p", "team:b").Allowed, "other identifiers unaffected")
}

func TestRateLimiter_BurstBlocks(t *testing.T) {
	l, now := newTestLimiter([]RateLimitPolicy{
		{Name: "p", MaxRequests: 1000, WindowSize: time.Minute, BlockDuration: 45 * time.Second,
			EnableBurst: true, BurstLimit: 5, BurstWindow: time.Second},
	})

	for i := 0; i < 5; i++ {
		require.True(t, l.Check("p", "team:a").Allowed, "request %d", i)
	}
	d := l.Check("p", "team:a")
	require.False(t, d.Allowed, "sixth request inside one second trips the burst limit")
	assert.Equal(t, 45*time.Second, d.RetryAfter)

	// Spread out, the same volume passes.
	l2, now2 := newTestLimiter([]RateLimitPolicy{
		{Name: "p", MaxRequests: 1000, WindowSize: time.Minute, BlockDuration: 45 * time.Second,
			EnableBurst: true, BurstLimit: 5, BurstWindow: time.Second},
	})
	_ = now
	for i := 0; i < 10; i++ {
		require.True(t, l2.Check("p", "team:a").Allowed, "request %d", i)
		*now2 = now2.Add(500 * time.Millisecond)
	}
}

func TestRateLimiter_UnknownPolicyAllows(t *testing.T) {
	l, _ := newTestLimiter(nil)
	assert.True(t, l.Check("nope", "team:a").Allowed)
}

func TestRateLimiter_Sweep(t *testing.T) {
	l, now := newTestLimiter([]RateLimitPolicy{
		{Name: "p", MaxRequests: 10, WindowSize: time.Minute, BlockDuration: time.Minute},
	})

	l.Check("p", "team:stale")
	*now = now.Add(30 * time.Second)
	l.Check("p", "team:fresh")
	require.Equal(t, 2, l.EntryCount())

	// Stale is idle past window+grace, fresh is not.
	*now = now.Add(time.Minute + rlIdleGrace - 15*time.Second)
	l.Sweep(context.Background())
	assert.Equal(t, 1, l.EntryCount())

	*now = now.Add(time.Hour)
	l.Sweep(context.Background())
	assert.Equal(t, 0, l.EntryCount())
}

func TestRateLimiter_SweepKeepsBlocked(t *testing.T) {
	l, now := newTestLimiter([]RateLimitPolicy{
		{Name: "p", MaxRequests: 1, WindowSize: time.Second, BlockDuration: time.Hour},
	})

	l.Check("p", "team:a")
	l.Check("p", "team:a") // blocked for an hour
	*now = now.Add(10 * time.Minute)
	l.Sweep(context.Background())
	assert.Equal(t, 1, l.EntryCount(), "blocked entries survive the sweep")

	d := l.Check("p", "team:a")
	assert.False(t, d.Allowed)
}

func TestRateLimiter_ConcurrentChecks(t *testing.T) {
	l := NewRateLimiter([]RateLimitPolicy{
		{Name: "p", MaxRequests: 50, WindowSize: time.Minute, BlockDuration: time.Minute},
	}, nil, zerolog.Nop())

	var wg sync.WaitGroup
	allowed := make([]int, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if l.Check("p", fmt.Sprintf("team:%d", g%2)).Allowed {
					allowed[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range allowed {
		total += n
	}
	// Two identifiers, 50 allowed each.
	assert.Equal(t, 100, total)
}
