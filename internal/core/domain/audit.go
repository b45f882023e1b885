package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry records a permission check or security-relevant sync transition.
// Recording failures must never block the sync that produced the entry.
type AuditEntry struct {
	ID        string
	Actor     string
	SessionID string
	Operation OperationType
	Resource  string
	Action    string
	Result    string
	Metadata  map[string]any
	Duration  time.Duration
	Error     string
	CreatedAt time.Time
}

// NewAuditEntry builds a timestamped entry with a fresh ID.
func NewAuditEntry(actor, sessionID string, op OperationType, resource, action, result string) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.New().String(),
		Actor:     actor,
		SessionID: sessionID,
		Operation: op,
		Resource:  resource,
		Action:    action,
		Result:    result,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now(),
	}
}
