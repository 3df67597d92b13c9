package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-gateway-core/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const auditColumns = `id, entity_id, entity_type, action, user_id, timestamp, details, snapshot_after, integrity_hash, previous_hash, is_sensitive`

// AuditRepository persists the hash-chained audit log.
type AuditRepository struct {
	db Pool
}

// NewAuditRepository creates an audit repository.
func NewAuditRepository(db Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, tx pgx.Tx, e *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := tx.Exec(ctx, query,
		e.ID, e.EntityID, e.EntityType, e.Action, e.UserID, e.Timestamp,
		e.Details, e.SnapshotAfter, e.IntegrityHash, e.PreviousHash, e.IsSensitive)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) LastHash(ctx context.Context, entityID, entityType string) (*string, error) {
	query := `
		SELECT integrity_hash
		FROM audit_entries
		WHERE entity_id = $1 AND entity_type = $2
		ORDER BY timestamp DESC
		LIMIT 1`
	var hash string
	err := r.db.QueryRow(ctx, query, entityID, entityType).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading last audit hash: %w", err)
	}
	return &hash, nil
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityID, entityType string) ([]domain.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE entity_id = $1 AND entity_type = $2
		ORDER BY timestamp`
	rows, err := r.db.Query(ctx, query, entityID, entityType)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.EntityID, &e.EntityType, &e.Action, &e.UserID,
			&e.Timestamp, &e.Details, &e.SnapshotAfter, &e.IntegrityHash,
			&e.PreviousHash, &e.IsSensitive); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepository) DeleteForEntities(ctx context.Context, tx pgx.Tx, entityIDs []string) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM audit_entries WHERE entity_id = ANY($1)`, entityIDs)
	if err != nil {
		return 0, fmt.Errorf("deleting audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
