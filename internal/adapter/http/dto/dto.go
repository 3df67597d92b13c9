package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire keys are PascalCase: deployed clients sign the exact key set
// they send, so renaming a field breaks every stored integration.

// InitRequest creates a payment for a team order.
type InitRequest struct {
	TeamSlug          string `json:"TeamSlug" binding:"required"`
	Token             string `json:"Token" binding:"required"`
	OrderID           string `json:"OrderId" binding:"required"`
	Amount            int64  `json:"Amount" binding:"required"`
	Currency          string `json:"Currency"`
	Description       string `json:"Description"`
	ExternalRequestID string `json:"ExternalRequestId"`
	Priority          int    `json:"Priority"`
}

// LifecycleCommandRequest drives authorize, confirm or cancel against
// an existing payment. Amount participates in cancel only.
type LifecycleCommandRequest struct {
	TeamSlug          string `json:"TeamSlug" binding:"required"`
	Token             string `json:"Token" binding:"required"`
	PaymentID         string `json:"PaymentId" binding:"required"`
	Amount            *int64 `json:"Amount,omitempty"`
	Reason            string `json:"Reason"`
	ExternalRequestID string `json:"ExternalRequestId"`
	Priority          int    `json:"Priority"`
}

// StateRequest looks up the current payment state. Its token uses the
// fixed status-lookup concatenation, not the lexicographic one.
type StateRequest struct {
	TeamSlug  string `json:"TeamSlug" binding:"required"`
	Token     string `json:"Token" binding:"required"`
	PaymentID string `json:"PaymentId" binding:"required"`
}

// PaymentResponse is the lifecycle view of a payment.
type PaymentResponse struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	TeamSlug  string `json:"team_slug"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// TokenIssueRequest asks for an expiring token over arbitrary signed
// parameters.
type TokenIssueRequest struct {
	TeamSlug string                 `json:"TeamSlug" binding:"required"`
	Token    string                 `json:"Token" binding:"required"`
	Params   map[string]interface{} `json:"Params"`
}

// TokenRefreshRequest rotates an expiring token. The refresh token is
// the credential; no signature is required.
type TokenRefreshRequest struct {
	RefreshToken string `json:"RefreshToken" binding:"required"`
}

// VerifyWebhookRequest replays a received webhook through the
// gateway's verification logic. Payload is the exact body bytes the
// merchant received; Timestamp is the raw X-Webhook-Timestamp header.
type VerifyWebhookRequest struct {
	TeamSlug  string `json:"TeamSlug" binding:"required"`
	Token     string `json:"Token" binding:"required"`
	Payload   string `json:"Payload" binding:"required"`
	Signature string `json:"Signature" binding:"required"`
	Timestamp string `json:"Timestamp"`
}

// AdminLoginRequest authenticates the ops surface.
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Flatten decodes a JSON request body into the parameter map the token
// is computed over. Numbers stay json.Number so integers render without
// a fractional part, matching the signing canon.
func Flatten(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var params map[string]interface{}
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("decoding request body: %w", err)
	}
	return params, nil
}

// StringParam finds a scalar string parameter by case-insensitive key.
func StringParam(params map[string]interface{}, key string) (string, bool) {
	for k, v := range params {
		if strings.EqualFold(k, key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

// FormatTime renders response timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
