package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payment-gateway-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// The in-memory repositories stand in for postgres so the integration
// tests can run the full HTTP stack without a database. Repositories
// serialize access with a mutex and hand out copies; the transaction
// handle is a no-op because the lifecycle lock already serializes
// writers per payment.

type memTx struct{}

func (memTx) Begin(context.Context) (pgx.Tx, error) { return memTx{}, nil }
func (memTx) Commit(context.Context) error          { return nil }
func (memTx) Rollback(context.Context) error        { return nil }
func (memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, fmt.Errorf("not supported")
}
func (memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, fmt.Errorf("not supported")
}
func (memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, fmt.Errorf("not supported")
}
func (memTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("not supported")
}
func (memTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (memTx) Conn() *pgx.Conn                                  { return nil }

type memDB struct{}

func (memDB) Begin(context.Context) (pgx.Tx, error) { return memTx{}, nil }

// ---- payments ----

type memPaymentRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Payment // keyed by PaymentID
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{byID: make(map[string]*domain.Payment)}
}

func (r *memPaymentRepo) Create(_ context.Context, _ pgx.Tx, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.PaymentID] = &cp
	return nil
}

func (r *memPaymentRepo) GetByPaymentID(_ context.Context, paymentID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[paymentID]
	if !ok || p.IsDeleted {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) GetByPaymentIDForUpdate(ctx context.Context, _ pgx.Tx, paymentID string) (*domain.Payment, error) {
	return r.GetByPaymentID(ctx, paymentID)
}

func (r *memPaymentRepo) GetByOrderID(_ context.Context, teamID uuid.UUID, orderID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.TeamID == teamID && p.OrderID == orderID && !p.IsDeleted {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPaymentRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.PaymentStatus, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.ID == id {
			p.Status = status
			p.UpdatedAt = updatedAt
			return nil
		}
	}
	return fmt.Errorf("payment %s: no row updated", id)
}

func (r *memPaymentRepo) ListIDsByTeam(_ context.Context, _ pgx.Tx, teamID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, p := range r.byID {
		if p.TeamID == teamID {
			ids = append(ids, p.PaymentID)
		}
	}
	return ids, nil
}

func (r *memPaymentRepo) DeleteByTeam(_ context.Context, _ pgx.Tx, teamID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, p := range r.byID {
		if p.TeamID == teamID {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// ---- transactions ----

type memTransactionRepo struct {
	mu   sync.Mutex
	rows []domain.Transaction
}

func newMemTransactionRepo() *memTransactionRepo { return &memTransactionRepo{} }

func (r *memTransactionRepo) Append(_ context.Context, _ pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *t)
	return nil
}

func (r *memTransactionRepo) ListByPaymentID(_ context.Context, paymentID string) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, t := range r.rows {
		if t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTransactionRepo) DeleteForPayments(_ context.Context, _ pgx.Tx, paymentIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := r.rows[:0]
	var n int64
	for _, t := range r.rows {
		if containsString(paymentIDs, t.PaymentID) {
			n++
			continue
		}
		keep = append(keep, t)
	}
	r.rows = keep
	return n, nil
}

// ---- audit ----

type memAuditRepo struct {
	mu   sync.Mutex
	rows []domain.AuditEntry
}

func newMemAuditRepo() *memAuditRepo { return &memAuditRepo{} }

func (r *memAuditRepo) Append(_ context.Context, _ pgx.Tx, e *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *e)
	return nil
}

func (r *memAuditRepo) LastHash(_ context.Context, entityID, entityType string) (*string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].EntityID == entityID && r.rows[i].EntityType == entityType {
			h := r.rows[i].IntegrityHash
			return &h, nil
		}
	}
	return nil, nil
}

func (r *memAuditRepo) ListByEntity(_ context.Context, entityID, entityType string) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range r.rows {
		if e.EntityID == entityID && e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memAuditRepo) DeleteForEntities(_ context.Context, _ pgx.Tx, entityIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := r.rows[:0]
	var n int64
	for _, e := range r.rows {
		if containsString(entityIDs, e.EntityID) {
			n++
			continue
		}
		keep = append(keep, e)
	}
	r.rows = keep
	return n, nil
}

// ---- teams ----

type memTeamRepo struct {
	mu    sync.Mutex
	teams map[string]*domain.Team
}

func newMemTeamRepo(teams ...*domain.Team) *memTeamRepo {
	r := &memTeamRepo{teams: make(map[string]*domain.Team)}
	for _, t := range teams {
		cp := *t
		r.teams[t.Slug] = &cp
	}
	return r
}

func (r *memTeamRepo) GetBySlug(_ context.Context, slug string) (*domain.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[slug]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// ---- delivery attempts ----

type memAttemptRepo struct {
	mu   sync.Mutex
	rows []domain.DeliveryAttempt
}

func newMemAttemptRepo() *memAttemptRepo { return &memAttemptRepo{} }

func (r *memAttemptRepo) Append(_ context.Context, a *domain.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *a)
	return nil
}

func (r *memAttemptRepo) ListByNotificationID(_ context.Context, notificationID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DeliveryAttempt
	for _, a := range r.rows {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAttemptRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
