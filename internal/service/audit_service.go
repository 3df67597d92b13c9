package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-gateway-core/internal/core/domain"
	"payment-gateway-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// AuditService appends hash-chained audit entries and verifies chains.
// Writes ride the caller's lifecycle transaction so a status change and
// its audit record commit or roll back together.
type AuditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
	now  func() time.Time
}

// NewAuditService creates an audit service.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditService {
	return &AuditService{repo: repo, log: log, now: time.Now}
}

// Record appends one entry for (entityID, entityType). details and
// snapshot are marshalled to JSON; the entry is chained to the latest
// stored hash and sealed before the insert.
func (s *AuditService) Record(ctx context.Context, tx pgx.Tx, entityID, entityType, action string, userID *string, details, snapshot any, sensitive bool) (*domain.AuditEntry, error) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshalling audit details: %w", err)
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshalling audit snapshot: %w", err)
	}

	prev, err := s.repo.LastHash(ctx, entityID, entityType)
	if err != nil {
		return nil, fmt.Errorf("loading last audit hash: %w", err)
	}

	entry := &domain.AuditEntry{
		ID:            uuid.New(),
		EntityID:      entityID,
		EntityType:    entityType,
		Action:        action,
		UserID:        userID,
		Timestamp:     s.now().UTC(),
		Details:       string(detailsJSON),
		SnapshotAfter: string(snapshotJSON),
		PreviousHash:  prev,
		IsSensitive:   sensitive,
	}
	entry.Seal()

	if err := s.repo.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("appending audit entry: %w", err)
	}
	return entry, nil
}

// ChainReport is the outcome of verifying one entity's audit chain.
type ChainReport struct {
	EntityID   string   `json:"entity_id"`
	EntityType string   `json:"entity_type"`
	Entries    int      `json:"entries"`
	Valid      bool     `json:"valid"`
	BrokenAt   []string `json:"broken_at,omitempty"` // entry ids
}

// VerifyChain recomputes every integrity hash for the entity and checks
// the PreviousHash links. It reads committed state only; no transaction.
func (s *AuditService) VerifyChain(ctx context.Context, entityID, entityType string) (*ChainReport, error) {
	entries, err := s.repo.ListByEntity(ctx, entityID, entityType)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}

	report := &ChainReport{EntityID: entityID, EntityType: entityType, Entries: len(entries), Valid: true}

	var prevHash *string
	for i := range entries {
		e := &entries[i]
		ok := e.VerifyIntegrity()
		if ok {
			switch {
			case i == 0:
				ok = e.PreviousHash == nil
			case e.PreviousHash == nil || prevHash == nil:
				ok = false
			default:
				ok = *e.PreviousHash == *prevHash
			}
		}
		if !ok {
			report.Valid = false
			report.BrokenAt = append(report.BrokenAt, e.ID.String())
		}
		h := e.IntegrityHash
		prevHash = &h
	}

	if !report.Valid {
		s.log.Warn().
			Str("entity_id", entityID).
			Str("entity_type", entityType).
			Strs("broken_at", report.BrokenAt).
			Msg("audit chain verification failed")
	}
	return report, nil
}
