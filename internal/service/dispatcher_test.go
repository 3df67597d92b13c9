package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req LifecycleRequest) (*domain.Payment, error)
}

func (f *fakeExecutor) invoke(ctx context.Context, req LifecycleRequest) (*domain.Payment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExecutor) Authorize(ctx context.Context, req LifecycleRequest) (*domain.Payment, error) {
	return f.invoke(ctx, req)
}
func (f *fakeExecutor) Confirm(ctx context.Context, req LifecycleRequest) (*domain.Payment, error) {
	return f.invoke(ctx, req)
}
func (f *fakeExecutor) Cancel(ctx context.Context, req LifecycleRequest) (*domain.Payment, error) {
	return f.invoke(ctx, req)
}

func newTestDispatcher(exec *fakeExecutor, cfg DispatcherConfig) *Dispatcher {
	return NewDispatcher(exec, cfg, nil, zerolog.Nop())
}

func TestDispatcher_SuccessResolvesFuture(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ context.Context, req LifecycleRequest) (*domain.Payment, error) {
		return &domain.Payment{PaymentID: req.PaymentID, Status: domain.StatusAuthorized}, nil
	}}
	d := newTestDispatcher(exec, DispatcherConfig{Workers: 2})
	d.Start()
	defer d.Stop()

	fut, err := d.Enqueue(context.Background(), CommandAuthorize, LifecycleRequest{TeamSlug: "acme", PaymentID: "P-1"})
	require.NoError(t, err)

	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, domain.StatusAuthorized, res.Payment.Status)

	status, ok := d.TaskStatus(fut.TaskID())
	require.True(t, ok)
	assert.Equal(t, TaskDone, status)
}

func TestDispatcher_NonRetryableSurfacesImmediately(t *testing.T) {
	exec := &fakeExecutor{fn: func(context.Context, LifecycleRequest) (*domain.Payment, error) {
		return nil, apperror.ErrInvalidState("CONFIRMED", "Authorize")
	}}
	d := newTestDispatcher(exec, DispatcherConfig{Workers: 1, MaxRetries: 3})
	d.Start()
	defer d.Stop()

	fut, err := d.Enqueue(context.Background(), CommandAuthorize, LifecycleRequest{TeamSlug: "acme", PaymentID: "P-1"})
	require.NoError(t, err)

	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INVALID_STATE", apperror.CodeOf(res.Err))
	assert.Equal(t, 1, exec.callCount())
	assert.Equal(t, 0, d.PendingRetries())
}

func TestDispatcher_TransientRetriedViaSweep(t *testing.T) {
	var attempts atomic.Int32
	exec := &fakeExecutor{fn: func(_ context.Context, req LifecycleRequest) (*domain.Payment, error) {
		if attempts.Add(1) == 1 {
			return nil, apperror.Transient(context.DeadlineExceeded)
		}
		return &domain.Payment{PaymentID: req.PaymentID, Status: domain.StatusConfirmed}, nil
	}}
	d := newTestDispatcher(exec, DispatcherConfig{Workers: 1, MaxRetries: 2, BaseRetryDelay: time.Millisecond})
	d.Start()
	defer d.Stop()

	fut, err := d.Enqueue(context.Background(), CommandConfirm, LifecycleRequest{TeamSlug: "acme", PaymentID: "P-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.PendingRetries() == 1 }, time.Second, 5*time.Millisecond)
	status, _ := d.TaskStatus(fut.TaskID())
	assert.Equal(t, TaskRetrying, status)

	time.Sleep(5 * time.Millisecond) // past nextAttemptAt
	d.SweepRetries(context.Background())

	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, domain.StatusConfirmed, res.Payment.Status)
	assert.Equal(t, 2, exec.callCount())
}

func TestDispatcher_MaxRetriesExhausted(t *testing.T) {
	exec := &fakeExecutor{fn: func(context.Context, LifecycleRequest) (*domain.Payment, error) {
		return nil, apperror.Transient(context.DeadlineExceeded)
	}}
	d := newTestDispatcher(exec, DispatcherConfig{Workers: 1, MaxRetries: 1, BaseRetryDelay: time.Millisecond})
	d.Start()
	defer d.Stop()

	fut, err := d.Enqueue(context.Background(), CommandCancel, LifecycleRequest{TeamSlug: "acme", PaymentID: "P-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.PendingRetries() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	d.SweepRetries(context.Background())

	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL_ERROR", apperror.CodeOf(res.Err))
	assert.Equal(t, 2, exec.callCount(), "initial attempt plus one retry")
}

func TestDispatcher_CancelBeforeProcessing(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ context.Context, req LifecycleRequest) (*domain.Payment, error) {
		return &domain.Payment{PaymentID: req.PaymentID}, nil
	}}
	d := newTestDispatcher(exec, DispatcherConfig{Workers: 1})
	// Not started yet: the item sits in the queue.

	fut, err := d.Enqueue(context.Background(), CommandCancel, LifecycleRequest{TeamSlug: "acme", PaymentID: "P-1"})
	require.NoError(t, err)
	fut.Cancel()

	d.Start()
	defer d.Stop()

	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", apperror.CodeOf(res.Err))
	assert.Equal(t, 0, exec.callCount(), "cancelled item never reaches the executor")

	status, _ := d.TaskStatus(fut.TaskID())
	assert.Equal(t, TaskCancelled, status)
}

func TestDispatcher_CancelInterruptsInFlight(t *testing.T) {
	started := make(chan struct{})
	exec := &fakeExecutor{fn: func(ctx context.Context, _ LifecycleRequest) (*domain.Payment, error) {
		close(started)
		<-ctx.Done()
		return nil, apperror.ErrCancelled()
	}}
	d := newTestDispatcher(exec, DispatcherConfig{Workers: 1})
	d.Start()
	defer d.Stop()

	fut, err := d.Enqueue(context.Background(), CommandAuthorize, LifecycleRequest{TeamSlug: "acme", PaymentID: "P-1"})
	require.NoError(t, err)

	<-started
	fut.Cancel()

	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", apperror.CodeOf(res.Err))
}

func TestDispatcher_TeamLimitExceeded(t *testing.T) {
	block := make(chan struct{})
	exec := &fakeExecutor{fn: func(_ context.Context, req LifecycleRequest) (*domain.Payment, error) {
		<-block
		return &domain.Payment{PaymentID: req.PaymentID}, nil
	}}
	d := newTestDispatcher(exec, DispatcherConfig{
		Workers:              2,
		TeamConcurrency:      1,
		AllowConcurrentTeams: true,
	})
	d.Start()
	defer d.Stop()

	first, err := d.Enqueue(context.Background(), CommandConfirm, LifecycleRequest{TeamSlug: "acme", PaymentID: "P-1"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond) // first occupies the team slot

	second, err := d.Enqueue(context.Background(), CommandConfirm, LifecycleRequest{TeamSlug: "acme", PaymentID: "P-2"})
	require.NoError(t, err)

	res, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TEAM_LIMIT_EXCEEDED", apperror.CodeOf(res.Err))

	close(block)
	res, err = first.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
}
