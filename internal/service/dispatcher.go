package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/metrics"
	"payment-gateway-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const teamTryAcquireDeadline = 100 * time.Millisecond

// Command selects the lifecycle operation a queued task performs.
type Command string

const (
	CommandAuthorize Command = "authorize"
	CommandConfirm   Command = "confirm"
	CommandCancel    Command = "cancel"
)

// Task statuses tracked in the processing map.
const (
	TaskQueued     = "QUEUED"
	TaskProcessing = "PROCESSING"
	TaskRetrying   = "RETRYING"
	TaskCancelled  = "CANCELLED"
	TaskDone       = "DONE"
)

// LifecycleExecutor is the slice of the lifecycle engine the dispatcher
// drives.
type LifecycleExecutor interface {
	Authorize(ctx context.Context, req LifecycleRequest) (*domain.Payment, error)
	Confirm(ctx context.Context, req LifecycleRequest) (*domain.Payment, error)
	Cancel(ctx context.Context, req LifecycleRequest) (*domain.Payment, error)
}

// DispatchResult is the terminal outcome of one queued task.
type DispatchResult struct {
	Payment *domain.Payment
	Err     error
}

// Future resolves once its task reaches a terminal outcome.
type Future struct {
	taskID uuid.UUID

	once   sync.Once
	done   chan struct{}
	result DispatchResult

	cancelMu  sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

// TaskID identifies the task behind this future.
func (f *Future) TaskID() uuid.UUID { return f.taskID }

// Wait blocks until the task completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (DispatchResult, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return DispatchResult{}, ctx.Err()
	}
}

// Cancel requests cancellation. An in-flight lifecycle call is
// interrupted at its next suspension point; a committed transition is
// not undone.
func (f *Future) Cancel() {
	f.cancelMu.Lock()
	defer f.cancelMu.Unlock()
	f.cancelled = true
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Future) isCancelled() bool {
	f.cancelMu.Lock()
	defer f.cancelMu.Unlock()
	return f.cancelled
}

func (f *Future) complete(r DispatchResult) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

type dispatchItem struct {
	taskID  uuid.UUID
	command Command
	req     LifecycleRequest
	attempt int
	future  *Future
}

type retryEntry struct {
	item          *dispatchItem
	nextAttemptAt time.Time
}

type taskState struct {
	status string
	at     time.Time
}

// Terminal task states are kept this long for status queries, then
// swept.
const taskStateRetention = 5 * time.Minute

// Dispatcher schedules lifecycle commands across a worker pool with a
// bounded FIFO, a global in-flight cap and per-team fairness.
type Dispatcher struct {
	exec    LifecycleExecutor
	metrics *metrics.Metrics
	log     zerolog.Logger

	queue      chan *dispatchItem
	workers    int
	global     chan struct{}
	maxRetries int
	baseDelay  time.Duration

	allowConcurrentTeams bool
	teamConcurrency      int
	teamMu               sync.Mutex
	teamSems             map[string]chan struct{}

	retryMu sync.Mutex
	retries map[string]retryEntry // paymentID -> pending retry

	stateMu sync.Mutex
	state   map[uuid.UUID]taskState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherConfig sizes the pool. Zero values fall back to CPU-derived
// defaults.
type DispatcherConfig struct {
	QueueCapacity        int
	Workers              int
	GlobalConcurrency    int
	TeamConcurrency      int
	AllowConcurrentTeams bool
	MaxRetries           int
	BaseRetryDelay       time.Duration
}

// NewDispatcher creates a stopped dispatcher; call Start to run it.
func NewDispatcher(exec LifecycleExecutor, cfg DispatcherConfig, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10_000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 2 * runtime.NumCPU()
	}
	if cfg.TeamConcurrency <= 0 {
		cfg.TeamConcurrency = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		exec:                 exec,
		metrics:              m,
		log:                  log,
		queue:                make(chan *dispatchItem, cfg.QueueCapacity),
		workers:              cfg.Workers,
		global:               make(chan struct{}, cfg.GlobalConcurrency),
		maxRetries:           cfg.MaxRetries,
		baseDelay:            cfg.BaseRetryDelay,
		allowConcurrentTeams: cfg.AllowConcurrentTeams,
		teamConcurrency:      cfg.TeamConcurrency,
		teamSems:             make(map[string]chan struct{}),
		retries:              make(map[string]retryEntry),
		state:                make(map[uuid.UUID]taskState),
		ctx:                  ctx,
		cancel:               cancel,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.log.Info().Int("workers", d.workers).Msg("dispatcher started")
}

// Stop drains nothing: queued items stay queued, in-flight lifecycle
// calls are interrupted, waiters are resolved with CANCELLED.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()

	for {
		select {
		case item := <-d.queue:
			item.future.complete(DispatchResult{Err: apperror.ErrCancelled()})
		default:
			d.log.Info().Msg("dispatcher stopped")
			return
		}
	}
}

// Enqueue appends a task to the FIFO, blocking while the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, command Command, req LifecycleRequest) (*Future, error) {
	item := &dispatchItem{
		taskID:  uuid.New(),
		command: command,
		req:     req,
		future:  &Future{done: make(chan struct{})},
	}
	item.future.taskID = item.taskID

	select {
	case d.queue <- item:
	case <-ctx.Done():
		return nil, apperror.ErrCancelled()
	case <-d.ctx.Done():
		return nil, apperror.ErrCancelled()
	}

	d.setState(item.taskID, TaskQueued)
	if d.metrics != nil {
		d.metrics.QueueLength.Set(float64(len(d.queue)))
	}
	return item.future, nil
}

// TaskStatus reports the processing-map status of a task.
func (d *Dispatcher) TaskStatus(taskID uuid.UUID) (string, bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	s, ok := d.state[taskID]
	return s.status, ok
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case item := <-d.queue:
			if d.metrics != nil {
				d.metrics.QueueLength.Set(float64(len(d.queue)))
			}
			d.process(item)
		}
	}
}

func (d *Dispatcher) process(item *dispatchItem) {
	if item.future.isCancelled() {
		d.setState(item.taskID, TaskCancelled)
		item.future.complete(DispatchResult{Err: apperror.ErrCancelled()})
		return
	}

	select {
	case d.global <- struct{}{}:
	case <-d.ctx.Done():
		d.setState(item.taskID, TaskCancelled)
		item.future.complete(DispatchResult{Err: apperror.ErrCancelled()})
		return
	}
	defer func() { <-d.global }()

	release, err := d.acquireTeam(item.req.TeamSlug)
	if err != nil {
		d.finish(item, nil, err)
		return
	}
	defer release()

	ctx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	item.future.cancelMu.Lock()
	if item.future.cancelled {
		item.future.cancelMu.Unlock()
		d.setState(item.taskID, TaskCancelled)
		item.future.complete(DispatchResult{Err: apperror.ErrCancelled()})
		return
	}
	item.future.cancel = cancel
	item.future.cancelMu.Unlock()

	d.setState(item.taskID, TaskProcessing)

	var p *domain.Payment
	switch item.command {
	case CommandAuthorize:
		p, err = d.exec.Authorize(ctx, item.req)
	case CommandConfirm:
		p, err = d.exec.Confirm(ctx, item.req)
	case CommandCancel:
		p, err = d.exec.Cancel(ctx, item.req)
	default:
		err = apperror.Validation("unknown command " + string(item.command))
	}
	d.finish(item, p, err)
}

// finish resolves the future or schedules a retry.
func (d *Dispatcher) finish(item *dispatchItem, p *domain.Payment, err error) {
	if err == nil {
		d.setState(item.taskID, TaskDone)
		item.future.complete(DispatchResult{Payment: p})
		return
	}

	kind := apperror.KindOf(err)
	if kind == apperror.KindCancelled || item.future.isCancelled() {
		d.setState(item.taskID, TaskCancelled)
		item.future.complete(DispatchResult{Err: apperror.ErrCancelled()})
		return
	}

	retryable := kind == apperror.KindTransient || kind == apperror.KindConflict
	if retryable && item.attempt < d.maxRetries {
		item.attempt++
		d.scheduleRetry(item)
		return
	}

	d.setState(item.taskID, TaskDone)
	item.future.complete(DispatchResult{Err: err})
}

func (d *Dispatcher) scheduleRetry(item *dispatchItem) {
	next := time.Now().Add(backoffDelay(d.baseDelay, item.attempt-1))
	d.retryMu.Lock()
	d.retries[item.req.PaymentID] = retryEntry{item: item, nextAttemptAt: next}
	d.retryMu.Unlock()
	d.setState(item.taskID, TaskRetrying)
	d.log.Debug().
		Str("payment_id", item.req.PaymentID).
		Int("attempt", item.attempt).
		Time("next_attempt_at", next).
		Msg("lifecycle retry scheduled")
}

// SweepRetries re-enqueues due retry entries. Wired to the scheduler at
// the retry sweep interval.
func (d *Dispatcher) SweepRetries(ctx context.Context) {
	now := time.Now()

	d.retryMu.Lock()
	var due []*dispatchItem
	for id, e := range d.retries {
		if !now.Before(e.nextAttemptAt) {
			due = append(due, e.item)
			delete(d.retries, id)
		}
	}
	d.retryMu.Unlock()

	for _, item := range due {
		select {
		case d.queue <- item:
			d.setState(item.taskID, TaskQueued)
		default:
			// Queue full: push the entry back for the next sweep.
			d.retryMu.Lock()
			d.retries[item.req.PaymentID] = retryEntry{item: item, nextAttemptAt: now}
			d.retryMu.Unlock()
		}
	}
	if d.metrics != nil {
		d.metrics.QueueLength.Set(float64(len(d.queue)))
	}
	d.sweepTaskStates(now)
}

// PendingRetries reports the retry-map size, for tests and
// introspection.
func (d *Dispatcher) PendingRetries() int {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()
	return len(d.retries)
}

// acquireTeam takes a per-team slot. When concurrent team processing is
// allowed the acquire is a 100ms try; otherwise it blocks.
func (d *Dispatcher) acquireTeam(teamSlug string) (func(), error) {
	sem := d.teamSem(teamSlug)

	if !d.allowConcurrentTeams {
		select {
		case sem <- struct{}{}:
			return func() { <-sem }, nil
		case <-d.ctx.Done():
			return nil, apperror.ErrCancelled()
		}
	}

	timer := time.NewTimer(teamTryAcquireDeadline)
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, apperror.ErrTeamLimitExceeded()
	case <-d.ctx.Done():
		return nil, apperror.ErrCancelled()
	}
}

func (d *Dispatcher) teamSem(teamSlug string) chan struct{} {
	d.teamMu.Lock()
	defer d.teamMu.Unlock()
	sem, ok := d.teamSems[teamSlug]
	if !ok {
		sem = make(chan struct{}, d.teamConcurrency)
		d.teamSems[teamSlug] = sem
	}
	return sem
}

func (d *Dispatcher) setState(taskID uuid.UUID, s string) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.state[taskID] = taskState{status: s, at: time.Now()}
}

// sweepTaskStates evicts terminal entries past the retention window.
func (d *Dispatcher) sweepTaskStates(now time.Time) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	for id, s := range d.state {
		terminal := s.status == TaskDone || s.status == TaskCancelled
		if terminal && now.Sub(s.at) > taskStateRetention {
			delete(d.state, id)
		}
	}
}
