package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-gateway-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, payment_id, team_id, team_slug, order_id, amount, currency, status, created_at, updated_at, is_deleted`

// PaymentRepository persists payments. Write methods run on the
// caller's transaction; reads go straight to the pool.
type PaymentRepository struct {
	db Pool
}

// NewPaymentRepository creates a payment repository.
func NewPaymentRepository(db Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := tx.Exec(ctx, query,
		p.ID, p.PaymentID, p.TeamID, p.TeamSlug, p.OrderID,
		p.Amount, p.Currency, p.Status, p.CreatedAt, p.UpdatedAt, p.IsDeleted)
	if err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE payment_id = $1 AND is_deleted = FALSE`
	return scanPayment(r.db.QueryRow(ctx, query, paymentID))
}

func (r *PaymentRepository) GetByPaymentIDForUpdate(ctx context.Context, tx pgx.Tx, paymentID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE payment_id = $1 AND is_deleted = FALSE
		FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, paymentID))
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, teamID uuid.UUID, orderID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE team_id = $1 AND order_id = $2 AND is_deleted = FALSE`
	return scanPayment(r.db.QueryRow(ctx, query, teamID, orderID))
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.PaymentStatus, updatedAt time.Time) error {
	query := `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := tx.Exec(ctx, query, id, status, updatedAt)
	if err != nil {
		return fmt.Errorf("updating payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: no row updated", id)
	}
	return nil
}

func (r *PaymentRepository) ListIDsByTeam(ctx context.Context, tx pgx.Tx, teamID uuid.UUID) ([]string, error) {
	query := `SELECT payment_id FROM payments WHERE team_id = $1`
	rows, err := tx.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("listing payment ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning payment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PaymentRepository) DeleteByTeam(ctx context.Context, tx pgx.Tx, teamID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM payments WHERE team_id = $1`, teamID)
	if err != nil {
		return 0, fmt.Errorf("deleting payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.PaymentID, &p.TeamID, &p.TeamSlug, &p.OrderID,
		&p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	return &p, nil
}
