package domain

import "time"

// SyncResult is produced once per top-level sync call. It is returned to the
// caller and folded into the completion event; never mutated afterwards.
type SyncResult struct {
	Success    bool
	Timestamp  time.Time
	Duration   time.Duration
	Operations []*Operation
	Payload    *SyncPayload
	Error      *ClassifiedError
	// Degraded is set when the result was served from a fallback path.
	Degraded bool
	// Stale is set when a cache fallback exceeded the freshness threshold.
	Stale bool
}

// SyncPayload carries the typed outcome of a successful sync.
type SyncPayload struct {
	Address        string
	Collections    int
	TotalNFTs      int
	NewNFTs        int
	RemovedNFTs    int
	ProfileUpdated bool
	FullSync       bool
}

type SyncScope string

const (
	// ScopeFull refreshes identity, collection, and profile stats.
	ScopeFull SyncScope = "full"
	// ScopeCollection refreshes the NFT collection only.
	ScopeCollection SyncScope = "collection"
)
