package domain

import (
	"time"
)

// ExpiringToken is an issued request token with a validity window and
// an optional single-use refresh token. At most maxTokensPerTeam live
// tokens exist per tenant; overflow evicts the oldest.
type ExpiringToken struct {
	TokenID        string                 `json:"token_id"`
	TeamSlug       string                 `json:"team_slug"`
	Token          string                 `json:"token"` // hex SHA-256
	RefreshToken   *string                `json:"refresh_token,omitempty"`
	IssuedAt       time.Time              `json:"issued_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
	LastUsedAt     *time.Time             `json:"last_used_at,omitempty"`
	OriginalParams map[string]interface{} `json:"-"`
}

// Expired reports whether the token is past its validity window.
func (t *ExpiringToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
