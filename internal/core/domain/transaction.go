package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the kind of operation a transaction row records.
type TransactionType string

const (
	TxTypeAuthorize    TransactionType = "authorize"
	TxTypeCapture      TransactionType = "capture"
	TxTypeVoid         TransactionType = "void"
	TxTypeRefund       TransactionType = "refund"
	TxTypeStatusChange TransactionType = "status_change"
)

// Transaction is an append-only child of a Payment. Rows are never
// updated after insert.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	PaymentID     string          `json:"payment_id"`
	Type          TransactionType `json:"type"`
	Amount        int64           `json:"amount"`
	ResultCode    string          `json:"result_code"`
	ResultMessage string          `json:"result_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewTransaction builds a transaction row for a completed operation.
func NewTransaction(paymentID string, txType TransactionType, amount int64, resultCode, resultMessage string) *Transaction {
	return &Transaction{
		ID:            uuid.New(),
		PaymentID:     paymentID,
		Type:          txType,
		Amount:        amount,
		ResultCode:    resultCode,
		ResultMessage: resultMessage,
		CreatedAt:     time.Now().UTC(),
	}
}
