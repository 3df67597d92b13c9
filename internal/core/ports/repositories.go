package ports

import (
	"context"
	"time"

	"payment-gateway-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TeamRepository resolves merchant tenants. Read-only inside the core;
// teams are administered outside this module.
type TeamRepository interface {
	GetBySlug(ctx context.Context, slug string) (*domain.Team, error)
}

// PaymentRepository defines persistence operations for payments.
// Methods accepting pgx.Tx run inside the lifecycle transaction.
type PaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error)
	GetByPaymentIDForUpdate(ctx context.Context, tx pgx.Tx, paymentID string) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, teamID uuid.UUID, orderID string) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus, updatedAt time.Time) error
	// ListIDsByTeam returns payment ids of a tenant (soft-deleted included),
	// used by admin bulk delete to fan out to child tables.
	ListIDsByTeam(ctx context.Context, tx pgx.Tx, teamID uuid.UUID) ([]string, error)
	DeleteByTeam(ctx context.Context, tx pgx.Tx, teamID uuid.UUID) (int64, error)
}

// TransactionRepository persists the append-only transaction log.
type TransactionRepository interface {
	Append(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	ListByPaymentID(ctx context.Context, paymentID string) ([]domain.Transaction, error)
	DeleteForPayments(ctx context.Context, tx pgx.Tx, paymentIDs []string) (int64, error)
}

// AuditRepository persists the append-only, hash-chained audit log.
type AuditRepository interface {
	Append(ctx context.Context, tx pgx.Tx, e *domain.AuditEntry) error
	LastHash(ctx context.Context, entityID, entityType string) (*string, error)
	ListByEntity(ctx context.Context, entityID, entityType string) ([]domain.AuditEntry, error)
	DeleteForEntities(ctx context.Context, tx pgx.Tx, entityIDs []string) (int64, error)
}

// DeliveryAttemptRepository persists the webhook attempts log. Attempts
// are recorded outside the lifecycle transaction (delivery is async).
type DeliveryAttemptRepository interface {
	Append(ctx context.Context, a *domain.DeliveryAttempt) error
	ListByNotificationID(ctx context.Context, notificationID uuid.UUID) ([]domain.DeliveryAttempt, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
