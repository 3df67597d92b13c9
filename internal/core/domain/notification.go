package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies a webhook event. Each type carries its
// own retry policy and delivery rate window.
type NotificationType string

const (
	NotifyPaymentStatusChange NotificationType = "PAYMENT_STATUS_CHANGE"
	NotifyPaymentSuccess      NotificationType = "PAYMENT_SUCCESS"
	NotifyPaymentFailure      NotificationType = "PAYMENT_FAILURE"
	NotifyFraudAlert          NotificationType = "FRAUD_ALERT"
	NotifySystemAlert         NotificationType = "SYSTEM_ALERT"
)

// NotificationTask is one scheduled webhook delivery. Payload bytes are
// frozen at creation: every attempt for a NotificationID sends
// identical bytes.
type NotificationTask struct {
	NotificationID uuid.UUID         `json:"notification_id"`
	TeamID         uuid.UUID         `json:"team_id"`
	TeamSlug       string            `json:"team_slug"`
	Type           NotificationType  `json:"type"`
	Endpoint       string            `json:"endpoint"`
	Payload        []byte            `json:"payload"`
	Priority       int               `json:"priority"` // 1..10, 10 highest
	AttemptCount   int               `json:"attempt_count"`
	Headers        map[string]string `json:"headers,omitempty"`
	Timeout        time.Duration     `json:"timeout"`
	CreatedAt      time.Time         `json:"created_at"`
	NextAttemptAt  time.Time         `json:"next_attempt_at"`
}

// RetryPolicy bounds delivery attempts for one notification type.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var retryPolicies = map[NotificationType]RetryPolicy{
	NotifyPaymentStatusChange: {MaxAttempts: 5, BaseDelay: 2 * time.Second},
	NotifyPaymentSuccess:      {MaxAttempts: 3, BaseDelay: 1 * time.Second},
	NotifyPaymentFailure:      {MaxAttempts: 5, BaseDelay: 1 * time.Second},
	NotifyFraudAlert:          {MaxAttempts: 10, BaseDelay: 1 * time.Second},
	NotifySystemAlert:         {MaxAttempts: 8, BaseDelay: 5 * time.Second},
}

// PolicyFor returns the retry policy for a notification type. Unknown
// types get the status-change policy.
func PolicyFor(t NotificationType) RetryPolicy {
	if p, ok := retryPolicies[t]; ok {
		return p
	}
	return retryPolicies[NotifyPaymentStatusChange]
}

// RateWindow bounds deliveries per (team, type).
type RateWindow struct {
	MaxPerMinute int
	MaxPerHour   int
}

var rateWindows = map[NotificationType]RateWindow{
	NotifyPaymentStatusChange: {MaxPerMinute: 120, MaxPerHour: 2000},
	NotifyPaymentSuccess:      {MaxPerMinute: 60, MaxPerHour: 1000},
	NotifyPaymentFailure:      {MaxPerMinute: 60, MaxPerHour: 1000},
	NotifyFraudAlert:          {MaxPerMinute: 30, MaxPerHour: 300},
	NotifySystemAlert:         {MaxPerMinute: 10, MaxPerHour: 100},
}

// WindowFor returns the delivery rate window for a notification type.
func WindowFor(t NotificationType) RateWindow {
	if w, ok := rateWindows[t]; ok {
		return w
	}
	return rateWindows[NotifyPaymentStatusChange]
}

// DeliveryStatus is the outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryFailureKind is the failure taxonomy for webhook deliveries.
type DeliveryFailureKind string

const (
	FailTimeout         DeliveryFailureKind = "TIMEOUT"
	FailHTTPError       DeliveryFailureKind = "HTTP_ERROR"
	FailDNS             DeliveryFailureKind = "DNS"
	FailTLS             DeliveryFailureKind = "TLS"
	FailRateLimited     DeliveryFailureKind = "RATE_LIMITED"
	FailPayloadTooLarge DeliveryFailureKind = "PAYLOAD_TOO_LARGE"
	FailMaxRetries      DeliveryFailureKind = "MAX_RETRIES_EXHAUSTED"
)

// DeliveryAttempt is one row of the append-only attempts log.
type DeliveryAttempt struct {
	ID             uuid.UUID      `json:"id"`
	NotificationID uuid.UUID      `json:"notification_id"`
	AttemptNumber  int            `json:"attempt_number"`
	Status         DeliveryStatus `json:"status"`
	ResponseCode   *int           `json:"response_code,omitempty"`
	Duration       time.Duration  `json:"duration"`
	Error          *string        `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
