package domain

import "time"

// SyncEvent is an immutable record published on the event bus. Events are
// appended to the bus history ring and delivered to subscribers in publish
// order; they are filtered by type and time, never looked up by key.
type SyncEvent struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type EventType string

// Stable topic names, part of the external contract.
const (
	EventWalletConnected      EventType = "wallet-connected"
	EventWalletDisconnected   EventType = "wallet-disconnected"
	EventNFTCollectionUpdated EventType = "nft-collection-updated"
	EventProfileSyncStarted   EventType = "profile-sync-started"
	EventProfileSyncCompleted EventType = "profile-sync-completed"
	EventSyncError            EventType = "sync-error"
)

// NewEvent builds a timestamped event.
func NewEvent(eventType EventType, source string, payload map[string]any) SyncEvent {
	return SyncEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}
