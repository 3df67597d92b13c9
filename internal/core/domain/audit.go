package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is an append-only record of one mutation. Entries for a
// single (EntityID, EntityType) are appended in timestamp order and
// chained through PreviousHash.
type AuditEntry struct {
	ID            uuid.UUID `json:"id"`
	EntityID      string    `json:"entity_id"`
	EntityType    string    `json:"entity_type"`
	Action        string    `json:"action"`
	UserID        *string   `json:"user_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Details       string    `json:"details"`        // JSON string
	SnapshotAfter string    `json:"snapshot_after"` // JSON string
	IntegrityHash string    `json:"integrity_hash"`
	PreviousHash  *string   `json:"previous_hash,omitempty"`
	IsSensitive   bool      `json:"is_sensitive"`
}

// ComputeIntegrityHash returns the canonical SHA-256 of the entry:
// entityId|entityType|action|userId|timestamp-ISO8601|details|snapshotAfter,
// hex-encoded lowercase. Verification recomputes and compares.
func (e *AuditEntry) ComputeIntegrityHash() string {
	userID := ""
	if e.UserID != nil {
		userID = *e.UserID
	}
	h := sha256.New()
	h.Write([]byte(e.EntityID))
	h.Write([]byte("|"))
	h.Write([]byte(e.EntityType))
	h.Write([]byte("|"))
	h.Write([]byte(e.Action))
	h.Write([]byte("|"))
	h.Write([]byte(userID))
	h.Write([]byte("|"))
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte("|"))
	h.Write([]byte(e.Details))
	h.Write([]byte("|"))
	h.Write([]byte(e.SnapshotAfter))
	return hex.EncodeToString(h.Sum(nil))
}

// Seal stamps the entry with its integrity hash.
func (e *AuditEntry) Seal() {
	e.IntegrityHash = e.ComputeIntegrityHash()
}

// VerifyIntegrity reports whether the stored hash matches the
// recomputed one.
func (e *AuditEntry) VerifyIntegrity() bool {
	return e.IntegrityHash == e.ComputeIntegrityHash()
}
