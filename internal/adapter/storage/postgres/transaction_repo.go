package postgres

import (
	"context"
	"fmt"

	"payment-gateway-core/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// TransactionRepository persists the append-only transaction log.
type TransactionRepository struct {
	db Pool
}

// NewTransactionRepository creates a transaction repository.
func NewTransactionRepository(db Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Append(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, payment_id, type, amount, result_code, result_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.Exec(ctx, query,
		t.ID, t.PaymentID, t.Type, t.Amount, t.ResultCode, t.ResultMessage, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]domain.Transaction, error) {
	query := `
		SELECT id, payment_id, type, amount, result_code, result_message, created_at
		FROM transactions
		WHERE payment_id = $1
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.Type, &t.Amount,
			&t.ResultCode, &t.ResultMessage, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TransactionRepository) DeleteForPayments(ctx context.Context, tx pgx.Tx, paymentIDs []string) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM transactions WHERE payment_id = ANY($1)`, paymentIDs)
	if err != nil {
		return 0, fmt.Errorf("deleting transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}
