package domain

import (
	"time"

	"github.com/google/uuid"
)

// Team represents a merchant integration account. It is the unit of
// authentication, rate limiting and webhook routing. Read-mostly:
// mutation happens only through admin flows outside the core.
type Team struct {
	ID                    uuid.UUID `json:"id"`
	Slug                  string    `json:"slug"`
	PasswordEnc           string    `json:"-"` // signing secret, AES-GCM encrypted at rest
	WebhookURL            *string   `json:"webhook_url,omitempty"`
	WebhookSecretEnc      *string   `json:"-"` // HMAC secret, AES-GCM encrypted at rest
	WebhookRetryAttempts  int       `json:"webhook_retry_attempts"`
	WebhookTimeoutSeconds int       `json:"webhook_timeout_seconds"`
	EnableWebhooks        bool      `json:"enable_webhooks"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// WebhooksConfigured reports whether deliveries can be attempted at all.
func (t *Team) WebhooksConfigured() bool {
	return t.EnableWebhooks && t.WebhookURL != nil && *t.WebhookURL != ""
}

// WebhookTimeout returns the per-team delivery deadline, falling back
// to def when unset.
func (t *Team) WebhookTimeout(def time.Duration) time.Duration {
	if t.WebhookTimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(t.WebhookTimeoutSeconds) * time.Second
}
