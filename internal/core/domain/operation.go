package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operation represents a single unit of sync work. The orchestrator creates
// one per attempt and owns it until it reaches a terminal status; completed
// or failed operations are history only and must not be mutated.
type Operation struct {
	ID         string
	Type       OperationType
	Status     OperationStatus
	StartedAt  time.Time
	EndedAt    time.Time
	RetryCount int
	Error      *ClassifiedError
	Metadata   map[string]any
}

type OperationType string

const (
	OperationWalletVerify     OperationType = "wallet_verify"
	OperationNFTFetch         OperationType = "nft_fetch"
	OperationProfileUpdate    OperationType = "profile_update"
	OperationCacheInvalidate  OperationType = "cache_invalidate"
	OperationEligibilityCheck OperationType = "eligibility_check"
)

// IsWrite reports whether the operation mutates state beyond the local cache.
// Write-class operations require a permission check and are never downgraded
// to stale data on failure.
func (t OperationType) IsWrite() bool {
	switch t {
	case OperationProfileUpdate, OperationCacheInvalidate:
		return true
	case OperationWalletVerify, OperationNFTFetch, OperationEligibilityCheck:
		return false
	}
	return false
}

type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationInProgress OperationStatus = "in_progress"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
	OperationRetrying   OperationStatus = "retrying"
)

// Terminal reports whether the status is final.
func (s OperationStatus) Terminal() bool {
	return s == OperationCompleted || s == OperationFailed
}

// NewOperation creates a pending operation with a fresh ID.
func NewOperation(opType OperationType) *Operation {
	return &Operation{
		ID:       uuid.New().String(),
		Type:     opType,
		Status:   OperationPending,
		Metadata: make(map[string]any),
	}
}

// Begin marks the operation in progress.
func (o *Operation) Begin() {
	o.Status = OperationInProgress
	o.StartedAt = time.Now()
}

// Complete marks the operation completed.
func (o *Operation) Complete() {
	o.Status = OperationCompleted
	o.EndedAt = time.Now()
}

// Fail marks the operation failed with its classified error.
func (o *Operation) Fail(cerr *ClassifiedError) {
	o.Status = OperationFailed
	o.Error = cerr
	o.EndedAt = time.Now()
}

// Duration returns how long the operation ran, zero if it never started.
func (o *Operation) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.EndedAt.IsZero() {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}
