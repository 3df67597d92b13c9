package ports

import (
	"context"
	"net/http"
	"time"
)

// EncryptionService handles AES-256-GCM encryption of secrets at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService produces and verifies deterministic SHA-256 request
// tokens over a canonical parameter projection.
type SignatureService interface {
	GenerateToken(params map[string]interface{}, password string) string
	ValidateToken(params map[string]interface{}, password, token string) bool
}

// Locker is named mutual exclusion with TTL and owner fencing. Acquire
// is a try-acquire: callers that need a deadline poll until it passes.
// A Release whose owner does not match the holder is a no-op.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// NonceStore tracks single-use values for replay protection.
// CheckAndSet returns true when the nonce is new.
type NonceStore interface {
	CheckAndSet(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error)
}

// WindowStore counts events in fixed windows, used for per-(team, type)
// webhook delivery limits.
type WindowStore interface {
	// Allow increments both windows and reports whether the event stays
	// within perMinute and perHour.
	Allow(ctx context.Context, key string, perMinute, perHour int) (bool, error)
}

// AdminTokenService issues and validates session tokens for the admin
// ops surface.
type AdminTokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(token string) (string, error) // returns subject
}

// HTTPClient abstracts outbound HTTP for webhook delivery, so tests can
// intercept requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}
