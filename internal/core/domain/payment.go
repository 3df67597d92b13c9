package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle state of a payment. Statuses only
// change along edges declared in the state machine.
type PaymentStatus string

const (
	StatusInit       PaymentStatus = "INIT"
	StatusNew        PaymentStatus = "NEW"
	StatusFormShowed PaymentStatus = "FORM_SHOWED"
	StatusAuthorized PaymentStatus = "AUTHORIZED"
	StatusConfirmed  PaymentStatus = "CONFIRMED"
	StatusCancelled  PaymentStatus = "CANCELLED"
	StatusRefunded   PaymentStatus = "REFUNDED"
	StatusRejected   PaymentStatus = "REJECTED"
)

// IsTerminal reports whether the status accepts no outbound edges.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusRefunded, StatusRejected:
		return true
	}
	return false
}

// Payment is one merchant-initiated charge lifecycle. While a lock on
// payment:{PaymentID} is held the record is exclusively owned by the
// lifecycle engine.
type Payment struct {
	ID        uuid.UUID     `json:"id"`
	PaymentID string        `json:"payment_id"` // globally unique, exposed to merchants
	TeamID    uuid.UUID     `json:"team_id"`
	TeamSlug  string        `json:"team_slug"`
	OrderID   string        `json:"order_id"` // unique per team among live payments
	Amount    int64         `json:"amount"`   // minor units, non-negative
	Currency  string        `json:"currency"` // ISO-4217
	Status    PaymentStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	IsDeleted bool          `json:"-"`
}

// LockKey returns the named-lock key guarding this payment.
func (p *Payment) LockKey() string {
	return PaymentLockKey(p.PaymentID)
}

// PaymentLockKey builds the lock key for a payment id.
func PaymentLockKey(paymentID string) string {
	return "payment:" + paymentID
}
