package postgres

import (
	"context"
	"fmt"
	"time"

	"payment-gateway-core/internal/core/domain"

	"github.com/google/uuid"
)

// DeliveryAttemptRepository persists the webhook attempts log. Attempts
// run outside the lifecycle transaction, so writes go to the pool.
type DeliveryAttemptRepository struct {
	db Pool
}

// NewDeliveryAttemptRepository creates an attempts repository.
func NewDeliveryAttemptRepository(db Pool) *DeliveryAttemptRepository {
	return &DeliveryAttemptRepository{db: db}
}

func (r *DeliveryAttemptRepository) Append(ctx context.Context, a *domain.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (id, notification_id, attempt_number, status, response_code, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.NotificationID, a.AttemptNumber, a.Status, a.ResponseCode,
		a.Duration.Milliseconds(), a.Error, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

func (r *DeliveryAttemptRepository) ListByNotificationID(ctx context.Context, notificationID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	query := `
		SELECT id, notification_id, attempt_number, status, response_code, duration_ms, error, created_at
		FROM delivery_attempts
		WHERE notification_id = $1
		ORDER BY attempt_number`
	rows, err := r.db.Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("listing delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		var (
			a          domain.DeliveryAttempt
			durationMS int64
		)
		if err := rows.Scan(&a.ID, &a.NotificationID, &a.AttemptNumber, &a.Status,
			&a.ResponseCode, &durationMS, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}
