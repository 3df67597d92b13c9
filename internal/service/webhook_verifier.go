package service

import (
	"context"
	"crypto/subtle"
	"strconv"
	"time"

	"payment-gateway-core/internal/core/ports"
	"payment-gateway-core/pkg/apperror"
)

const (
	replayWindow   = 300 * time.Second
	replayNonceTTL = 15 * time.Minute
)

// WebhookVerifier is the receiver-side check for signed webhooks:
// signature match, timestamp freshness and single-use signatures.
// Merchants embed the same logic; shipping it keeps both sides honest.
type WebhookVerifier struct {
	nonces ports.NonceStore
	now    func() time.Time
}

// NewWebhookVerifier creates a verifier backed by the given nonce store.
func NewWebhookVerifier(nonces ports.NonceStore) *WebhookVerifier {
	return &WebhookVerifier{nonces: nonces, now: time.Now}
}

// Verify checks one received webhook. timestamp is the raw
// X-Webhook-Timestamp header; pass "" when replay protection is off,
// which skips the freshness and single-use checks.
func (v *WebhookVerifier) Verify(ctx context.Context, secret, body []byte, signature, timestamp string) error {
	expected := SignWebhookBody(secret, body)
	if len(signature) != len(expected) ||
		subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return apperror.ErrAuthentication("webhook signature mismatch")
	}

	if timestamp == "" {
		return nil
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperror.ErrAuthentication("malformed webhook timestamp")
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew > replayWindow || skew < -replayWindow {
		return apperror.ErrAuthentication("webhook timestamp outside replay window")
	}

	fresh, err := v.nonces.CheckAndSet(ctx, "webhook:replay", signature+":"+timestamp, replayNonceTTL)
	if err != nil {
		return apperror.InternalError(err)
	}
	if !fresh {
		return apperror.ErrAuthentication("webhook signature replayed")
	}
	return nil
}
