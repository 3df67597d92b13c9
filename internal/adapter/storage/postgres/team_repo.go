package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-gateway-core/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// TeamRepository resolves merchant tenants. Read-only: teams are
// administered outside this service.
type TeamRepository struct {
	db Pool
}

// NewTeamRepository creates a team repository.
func NewTeamRepository(db Pool) *TeamRepository {
	return &TeamRepository{db: db}
}

func (r *TeamRepository) GetBySlug(ctx context.Context, slug string) (*domain.Team, error) {
	query := `
		SELECT id, slug, password_enc, webhook_url, webhook_secret_enc,
		       webhook_retry_attempts, webhook_timeout_seconds,
		       enable_webhooks, is_active, created_at, updated_at
		FROM teams
		WHERE slug = $1`
	var t domain.Team
	err := r.db.QueryRow(ctx, query, slug).Scan(
		&t.ID, &t.Slug, &t.PasswordEnc, &t.WebhookURL, &t.WebhookSecretEnc,
		&t.WebhookRetryAttempts, &t.WebhookTimeoutSeconds,
		&t.EnableWebhooks, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading team: %w", err)
	}
	return &t, nil
}
