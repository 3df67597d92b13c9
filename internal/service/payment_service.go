package service

import (
	"context"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/internal/metrics"
	"payment-gateway-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	lockPollInterval = 50 * time.Millisecond
	maxRetryDelay    = 30 * time.Second

	idempotencyTTL        = 15 * time.Minute
	idempotencyMaxEntries = 10_000
)

// PaymentEventSink receives committed state transitions. The webhook
// engine implements it; emission happens after commit, never inside
// the transaction.
type PaymentEventSink interface {
	PaymentStatusChanged(ctx context.Context, p *domain.Payment, from domain.PaymentStatus, event domain.Event)
}

// InitializeRequest creates a new payment for a team order.
type InitializeRequest struct {
	TeamSlug          string
	OrderID           string
	Amount            int64
	Currency          string
	Description       string
	ExternalRequestID string
	Priority          int // 1..10, 0 => default 5
	UserID            *string
}

// LifecycleRequest drives one command against an existing payment.
type LifecycleRequest struct {
	TeamSlug          string
	PaymentID         string
	Amount            *int64 // cancel only; must equal the payment amount when set
	Reason            string
	ExternalRequestID string
	Priority          int
	UserID            *string
}

type idemEntry struct {
	result   *domain.Payment
	err      error
	storedAt time.Time
}

// PaymentService is the lifecycle engine. Every mutation runs under
// global admission, the per-payment named lock, and one persistence
// transaction carrying the status update, the transaction row and the
// audit entry.
type PaymentService struct {
	db       ports.DBTransactor
	payments ports.PaymentRepository
	txs      ports.TransactionRepository
	teams    ports.TeamRepository
	audit    *AuditService
	locker   ports.Locker
	sink     PaymentEventSink
	metrics  *metrics.Metrics
	log      zerolog.Logger

	lockTimeout time.Duration
	procTimeout time.Duration
	maxRetries  int
	baseDelay   time.Duration

	global chan struct{}

	idemMu sync.Mutex
	idem   map[string]idemEntry
}

// PaymentServiceDeps bundles the lifecycle engine's collaborators.
type PaymentServiceDeps struct {
	DB       ports.DBTransactor
	Payments ports.PaymentRepository
	Txs      ports.TransactionRepository
	Teams    ports.TeamRepository
	Audit    *AuditService
	Locker   ports.Locker
	Sink     PaymentEventSink
	Metrics  *metrics.Metrics
	Log      zerolog.Logger

	LockTimeout       time.Duration
	ProcessingTimeout time.Duration
	MaxRetries        int
	BaseRetryDelay    time.Duration
	GlobalConcurrency int
}

// NewPaymentService creates the lifecycle engine.
func NewPaymentService(d PaymentServiceDeps) *PaymentService {
	if d.GlobalConcurrency <= 0 {
		d.GlobalConcurrency = 1
	}
	return &PaymentService{
		db:          d.DB,
		payments:    d.Payments,
		txs:         d.Txs,
		teams:       d.Teams,
		audit:       d.Audit,
		locker:      d.Locker,
		sink:        d.Sink,
		metrics:     d.Metrics,
		log:         d.Log,
		lockTimeout: d.LockTimeout,
		procTimeout: d.ProcessingTimeout,
		maxRetries:  d.MaxRetries,
		baseDelay:   d.BaseRetryDelay,
		global:      make(chan struct{}, d.GlobalConcurrency),
		idem:        make(map[string]idemEntry),
	}
}

// Initialize creates a payment in status NEW.
func (s *PaymentService) Initialize(ctx context.Context, req InitializeRequest) (*domain.Payment, error) {
	start := time.Now()
	result, err := s.doInitialize(ctx, req)
	s.observe("initialize", req.TeamSlug, req.Priority, start, err)
	return result, err
}

func (s *PaymentService) doInitialize(ctx context.Context, req InitializeRequest) (*domain.Payment, error) {
	if req.TeamSlug == "" || req.OrderID == "" {
		return nil, apperror.Validation("TeamSlug and OrderId are required")
	}
	if req.Amount < 0 {
		return nil, apperror.Validation("Amount must be non-negative")
	}
	if len(req.Currency) != 3 {
		return nil, apperror.Validation("Currency must be an ISO-4217 code")
	}

	release, err := s.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if cached, ok := s.idemGet(req.TeamSlug, req.ExternalRequestID); ok {
		return cached.result, cached.err
	}

	team, err := s.teams.GetBySlug(ctx, req.TeamSlug)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if team == nil {
		return nil, apperror.ErrNotFound("Team")
	}
	if !team.IsActive {
		return nil, apperror.ErrAccessDenied()
	}

	if existing, err := s.payments.GetByOrderID(ctx, team.ID, req.OrderID); err != nil {
		return nil, apperror.InternalError(err)
	} else if existing != nil {
		return nil, apperror.Validation("OrderId already has a payment")
	}

	now := time.Now().UTC()
	p := &domain.Payment{
		ID:        uuid.New(),
		PaymentID: uuid.NewString(),
		TeamID:    team.ID,
		TeamSlug:  team.Slug,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    domain.StatusInit,
		CreatedAt: now,
		UpdatedAt: now,
	}

	to, res := domain.Transition(p.Status, domain.EventInitialize)
	if !res.Valid {
		return nil, apperror.ErrInvalidState(string(p.Status), string(domain.EventInitialize))
	}

	err = s.retryTransient(ctx, func() error {
		return s.commitCreate(ctx, p, to, req)
	})
	if err != nil {
		s.idemPut(req.TeamSlug, req.ExternalRequestID, nil, err)
		return nil, err
	}

	s.countTransition(domain.StatusInit, to)
	s.emit(ctx, p, domain.StatusInit, domain.EventInitialize)
	s.idemPut(req.TeamSlug, req.ExternalRequestID, p, nil)
	return p, nil
}

func (s *PaymentService) commitCreate(ctx context.Context, p *domain.Payment, to domain.PaymentStatus, req InitializeRequest) error {
	start := time.Now()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperror.Transient(err)
	}
	defer tx.Rollback(ctx)

	p.Status = to
	if err := s.payments.Create(ctx, tx, p); err != nil {
		p.Status = domain.StatusInit
		return apperror.Transient(err)
	}
	row := domain.NewTransaction(p.PaymentID, domain.TxTypeStatusChange, p.Amount, "SUCCESS", "payment_initialized")
	if err := s.txs.Append(ctx, tx, row); err != nil {
		p.Status = domain.StatusInit
		return apperror.Transient(err)
	}
	details := map[string]string{
		"order_id":    req.OrderID,
		"currency":    req.Currency,
		"description": req.Description,
	}
	if _, err := s.audit.Record(ctx, tx, p.PaymentID, "payment", "payment_initialized", req.UserID, details, p, false); err != nil {
		p.Status = domain.StatusInit
		return apperror.Transient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		p.Status = domain.StatusInit
		return apperror.Transient(err)
	}
	if s.metrics != nil {
		s.metrics.TransitionDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Authorize moves a payment to AUTHORIZED. A payment still in NEW
// passes through FORM_SHOWED first, each hop committed and announced
// separately.
func (s *PaymentService) Authorize(ctx context.Context, req LifecycleRequest) (*domain.Payment, error) {
	return s.mutate(ctx, req, "authorize", func(ctx context.Context, p *domain.Payment) error {
		if p.Status == domain.StatusNew {
			if err := s.transition(ctx, p, domain.EventShowForm, domain.TxTypeStatusChange, "payment_form_showed", req.UserID); err != nil {
				return err
			}
		}
		return s.transition(ctx, p, domain.EventAuthorize, domain.TxTypeAuthorize, "payment_authorized", req.UserID)
	})
}

// Confirm captures an authorized payment.
func (s *PaymentService) Confirm(ctx context.Context, req LifecycleRequest) (*domain.Payment, error) {
	return s.mutate(ctx, req, "confirm", func(ctx context.Context, p *domain.Payment) error {
		return s.transition(ctx, p, domain.EventConfirm, domain.TxTypeCapture, "payment_confirmed", req.UserID)
	})
}

// Cancel dispatches to plain cancellation, reversal or refund depending
// on the current status. Partial amounts are rejected.
func (s *PaymentService) Cancel(ctx context.Context, req LifecycleRequest) (*domain.Payment, error) {
	return s.mutate(ctx, req, "cancel", func(ctx context.Context, p *domain.Payment) error {
		if req.Amount != nil && *req.Amount != p.Amount {
			return apperror.ErrPartialNotSupported()
		}
		event, txType := domain.CancelOutcome(p.Status)
		action := "payment_cancelled"
		if event == domain.EventRefund {
			action = "payment_refunded"
		}
		return s.transition(ctx, p, event, txType, action, req.UserID)
	})
}

// Get returns a payment after an ownership check.
func (s *PaymentService) Get(ctx context.Context, teamSlug, paymentID string) (*domain.Payment, error) {
	p, err := s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if p == nil || p.IsDeleted {
		return nil, apperror.ErrNotFound("Payment")
	}
	if p.TeamSlug != teamSlug {
		return nil, apperror.ErrAccessDenied()
	}
	return p, nil
}

// mutate runs the shared execution protocol: admission, payment lock,
// load, ownership, idempotency, then apply.
func (s *PaymentService) mutate(ctx context.Context, req LifecycleRequest, op string, apply func(context.Context, *domain.Payment) error) (*domain.Payment, error) {
	start := time.Now()
	result, err := s.doMutate(ctx, req, apply)
	s.observe(op, req.TeamSlug, req.Priority, start, err)
	return result, err
}

func (s *PaymentService) doMutate(ctx context.Context, req LifecycleRequest, apply func(context.Context, *domain.Payment) error) (*domain.Payment, error) {
	if req.TeamSlug == "" || req.PaymentID == "" {
		return nil, apperror.Validation("TeamSlug and PaymentId are required")
	}

	release, err := s.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock, err := s.lockPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.payments.GetByPaymentID(ctx, req.PaymentID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if p == nil || p.IsDeleted {
		return nil, apperror.ErrNotFound("Payment")
	}
	if p.TeamSlug != req.TeamSlug {
		return nil, apperror.ErrAccessDenied()
	}

	if cached, ok := s.idemGet(req.TeamSlug, req.ExternalRequestID); ok {
		return cached.result, cached.err
	}

	if err := apply(ctx, p); err != nil {
		s.idemPut(req.TeamSlug, req.ExternalRequestID, nil, err)
		return nil, err
	}
	s.idemPut(req.TeamSlug, req.ExternalRequestID, p, nil)
	return p, nil
}

// transition validates one edge, commits it with retry and announces
// the committed change.
func (s *PaymentService) transition(ctx context.Context, p *domain.Payment, event domain.Event, txType domain.TransactionType, action string, userID *string) error {
	from := p.Status
	to, res := domain.Transition(from, event)
	if !res.Valid {
		return apperror.ErrInvalidState(string(from), string(event))
	}

	err := s.retryTransient(ctx, func() error {
		return s.commitTransition(ctx, p, to, txType, action, userID)
	})
	if err != nil {
		return err
	}

	s.countTransition(from, to)
	s.emit(ctx, p, from, event)
	return nil
}

func (s *PaymentService) commitTransition(ctx context.Context, p *domain.Payment, to domain.PaymentStatus, txType domain.TransactionType, action string, userID *string) error {
	start := time.Now()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperror.Transient(err)
	}
	defer tx.Rollback(ctx)

	cur, err := s.payments.GetByPaymentIDForUpdate(ctx, tx, p.PaymentID)
	if err != nil {
		return apperror.Transient(err)
	}
	if cur == nil {
		return apperror.ErrNotFound("Payment")
	}
	// The named lock serializes writers; a drifted status means the
	// lock was lost (TTL expiry) and someone else moved the payment.
	if cur.Status != p.Status {
		return apperror.ErrInvalidState(string(cur.Status), action)
	}

	now := time.Now().UTC()
	if now.Before(p.UpdatedAt) {
		now = p.UpdatedAt
	}

	row := domain.NewTransaction(p.PaymentID, txType, p.Amount, "SUCCESS", action)
	if err := s.txs.Append(ctx, tx, row); err != nil {
		return apperror.Transient(err)
	}
	if err := s.payments.UpdateStatus(ctx, tx, p.ID, to, now); err != nil {
		return apperror.Transient(err)
	}

	details := map[string]string{
		"from":  string(p.Status),
		"to":    string(to),
		"event": action,
	}
	snapshot := *p
	snapshot.Status = to
	snapshot.UpdatedAt = now
	if _, err := s.audit.Record(ctx, tx, p.PaymentID, "payment", action, userID, details, &snapshot, false); err != nil {
		return apperror.Transient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperror.Transient(err)
	}

	p.Status = to
	p.UpdatedAt = now
	if s.metrics != nil {
		s.metrics.TransitionDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// admit takes a global concurrency ticket, waiting at most the
// processing timeout.
func (s *PaymentService) admit(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.ErrCancelled()
	}
	timer := time.NewTimer(s.procTimeout)
	defer timer.Stop()
	select {
	case s.global <- struct{}{}:
	case <-timer.C:
		return nil, apperror.ErrSystemOverload()
	case <-ctx.Done():
		return nil, apperror.ErrCancelled()
	}
	if s.metrics != nil {
		s.metrics.ActiveProcessing.Inc()
	}
	return func() {
		<-s.global
		if s.metrics != nil {
			s.metrics.ActiveProcessing.Dec()
		}
	}, nil
}

// lockPayment polls the named lock until the lock timeout passes.
func (s *PaymentService) lockPayment(ctx context.Context, paymentID string) (func(), error) {
	key := domain.PaymentLockKey(paymentID)
	owner := uuid.NewString()
	deadline := time.Now().Add(s.lockTimeout)

	for {
		ok, err := s.locker.Acquire(ctx, key, owner, s.lockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperror.ErrCancelled()
			}
			return nil, apperror.Transient(err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, apperror.ErrLockTimeout(key)
		}
		select {
		case <-ctx.Done():
			return nil, apperror.ErrCancelled()
		case <-time.After(lockPollInterval):
		}
	}

	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("releasing payment lock")
		}
	}, nil
}

// retryTransient runs fn up to maxRetries extra times. Backoff is
// exponential base 2 with full jitter, capped at 30s.
func (s *PaymentService) retryTransient(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || apperror.KindOf(err) != apperror.KindTransient || attempt >= s.maxRetries {
			return err
		}
		s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("transient failure, retrying")
		select {
		case <-ctx.Done():
			return apperror.ErrCancelled()
		case <-time.After(backoffDelay(s.baseDelay, attempt)):
		}
	}
}

// backoffDelay returns a uniform value in [0, min(base*2^attempt, 30s)].
func backoffDelay(base time.Duration, attempt int) time.Duration {
	ceil := base
	for i := 0; i < attempt && ceil < maxRetryDelay; i++ {
		ceil *= 2
	}
	if ceil > maxRetryDelay {
		ceil = maxRetryDelay
	}
	if ceil <= 0 {
		return 0
	}
	return rand.N(ceil + 1)
}

func (s *PaymentService) emit(ctx context.Context, p *domain.Payment, from domain.PaymentStatus, event domain.Event) {
	if s.sink == nil {
		return
	}
	snapshot := *p
	s.sink.PaymentStatusChanged(ctx, &snapshot, from, event)
}

func (s *PaymentService) countTransition(from, to domain.PaymentStatus) {
	if s.metrics != nil {
		s.metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

func (s *PaymentService) observe(op, team string, priority int, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if priority <= 0 {
		priority = 5
	}
	prio := strconv.Itoa(priority)
	result := "success"
	if err != nil {
		result = apperror.CodeOf(err)
	}
	if op == "cancel" {
		s.metrics.CancellationOps.WithLabelValues(team, result, prio).Inc()
	} else {
		s.metrics.ProcessingOps.WithLabelValues(team, result, prio).Inc()
	}
	s.metrics.ProcessingDuration.WithLabelValues(prio).Observe(time.Since(start).Seconds())
}

// ---- idempotency cache ----

func idemKey(teamSlug, externalRequestID string) string {
	return teamSlug + "\x00" + externalRequestID
}

func (s *PaymentService) idemGet(teamSlug, externalRequestID string) (idemEntry, bool) {
	if externalRequestID == "" {
		return idemEntry{}, false
	}
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	e, ok := s.idem[idemKey(teamSlug, externalRequestID)]
	if !ok || time.Since(e.storedAt) > idempotencyTTL {
		return idemEntry{}, false
	}
	return e, true
}

// idemPut caches a completed outcome. Transient and cancellation
// failures are not cached; the client is expected to retry those.
func (s *PaymentService) idemPut(teamSlug, externalRequestID string, result *domain.Payment, err error) {
	if externalRequestID == "" {
		return
	}
	switch apperror.KindOf(err) {
	case apperror.KindTransient, apperror.KindCancelled:
		return
	}
	var copied *domain.Payment
	if result != nil {
		c := *result
		copied = &c
	}
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	s.idem[idemKey(teamSlug, externalRequestID)] = idemEntry{result: copied, err: err, storedAt: time.Now()}
	s.evictIdemLocked()
}

func (s *PaymentService) evictIdemLocked() {
	if len(s.idem) <= idempotencyMaxEntries {
		return
	}
	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(s.idem))
	for k, e := range s.idem {
		all = append(all, aged{k, e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })
	for _, a := range all[:len(s.idem)-idempotencyMaxEntries] {
		delete(s.idem, a.key)
	}
}

// CleanupIdempotency drops expired idempotency entries. Wired to the
// scheduler.
func (s *PaymentService) CleanupIdempotency(ctx context.Context) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	for k, e := range s.idem {
		if time.Since(e.storedAt) > idempotencyTTL {
			delete(s.idem, k)
		}
	}
}
