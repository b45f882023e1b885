// Package fetch defines the data-fetch collaborator boundary: the functions
// the sync core calls to obtain ground-truth wallet, collection, and profile
// data. The HTTP implementation talks to the remote ownership source; tests
// substitute stubs.
package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
)

// ErrDeltaUnsupported is returned by sources that cannot serve incremental
// fetches; callers fall back to a full snapshot.
var ErrDeltaUnsupported = errors.New("delta fetch not supported by source")

// CollectionSnapshot is a full view of a wallet's NFT holdings.
type CollectionSnapshot struct {
	Address   string           `json:"address"`
	Items     []domain.NFTItem `json:"items"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// CollectionDelta is the change set since a known checkpoint hash. Removed
// holds item keys (contract:token_id).
type CollectionDelta struct {
	Address string           `json:"address"`
	Added   []domain.NFTItem `json:"added"`
	Removed []string         `json:"removed"`
	NewHash uint64           `json:"new_hash"`
}

// Source is the remote ownership source the core synchronizes against.
type Source interface {
	// VerifyWallet confirms the address resolves to a live identity.
	VerifyWallet(ctx context.Context, address string) (*domain.WalletIdentity, error)

	// FetchCollection returns the full collection snapshot for an address.
	FetchCollection(ctx context.Context, address string) (*CollectionSnapshot, error)

	// FetchCollectionDelta returns changes since the given checkpoint
	// hash, or ErrDeltaUnsupported.
	FetchCollectionDelta(ctx context.Context, address string, sinceHash uint64) (*CollectionDelta, error)

	// FetchProfileStats returns aggregate profile statistics.
	FetchProfileStats(ctx context.Context, address string) (*domain.ProfileStats, error)
}

// StatusError carries an HTTP status from the ownership source so the
// recovery engine can classify it.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return "source returned " + e.Status
}
