package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLockStore_AcquireRelease(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "payment:pay_1", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, "payment:pay_1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, "payment:pay_1", "owner-a"))

	ok, err = store.Acquire(ctx, "payment:pay_1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockStore_ReentrantExtendsTTL(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "payment:pay_1", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(50 * time.Second)

	ok, err = store.Acquire(ctx, "payment:pay_1", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// The original TTL would have expired here; the extension keeps it.
	mr.FastForward(30 * time.Second)
	ok, err = store.Acquire(ctx, "payment:pay_1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockStore_ReleaseWrongOwnerIsNoop(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "payment:pay_1", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(ctx, "payment:pay_1", "owner-b"))

	ok, err = store.Acquire(ctx, "payment:pay_1", "owner-c", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockStore_TTLExpiry(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "payment:pay_1", "owner-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = store.Acquire(ctx, "payment:pay_1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Late release from the expired holder must not free the new lock.
	require.NoError(t, store.Release(ctx, "payment:pay_1", "owner-a"))
	ok, err = store.Acquire(ctx, "payment:pay_1", "owner-c", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNonceStore_CheckAndSet(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewNonceStore(client)
	ctx := context.Background()

	fresh, err := store.CheckAndSet(ctx, "webhook:replay", "abc123", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.CheckAndSet(ctx, "webhook:replay", "abc123", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	// Same nonce in another scope is independent.
	fresh, err = store.CheckAndSet(ctx, "request:replay", "abc123", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	mr.FastForward(2 * time.Minute)
	fresh, err = store.CheckAndSet(ctx, "webhook:replay", "abc123", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestWindowStore_MinuteLimit(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewWindowStore(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := store.Allow(ctx, "acme:PAYMENT_SUCCESS", 3, 100)
		require.NoError(t, err)
		assert.True(t, ok, "event %d should pass", i)
	}

	ok, err := store.Allow(ctx, "acme:PAYMENT_SUCCESS", 3, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWindowStore_HourLimit(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewWindowStore(client)
	// Pin the clock so the minute window can roll without crossing an hour.
	base := time.Date(2026, 8, 24, 10, 0, 30, 0, time.UTC)
	store.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ok, err := store.Allow(ctx, "acme:FRAUD_ALERT", 100, 4)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := store.Allow(ctx, "acme:FRAUD_ALERT", 100, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	// A new minute does not reset the hour window.
	base = base.Add(time.Minute)
	ok, err = store.Allow(ctx, "acme:FRAUD_ALERT", 100, 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWindowStore_KeysIndependent(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewWindowStore(client)
	ctx := context.Background()

	ok, err := store.Allow(ctx, "acme:PAYMENT_SUCCESS", 1, 10)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Allow(ctx, "acme:PAYMENT_SUCCESS", 1, 10)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.Allow(ctx, "globex:PAYMENT_SUCCESS", 1, 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHealthChecker(t *testing.T) {
	client, mr := newTestClient(t)
	hc := NewHealthChecker(client)

	assert.Equal(t, "redis", hc.Name())
	require.NoError(t, hc.Check(context.Background()))

	mr.Close()
	assert.Error(t, hc.Check(context.Background()))
}
