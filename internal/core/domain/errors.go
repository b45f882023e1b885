package domain

import (
	"time"

	"github.com/google/uuid"
)

// ErrorKind is the closed taxonomy of failure categories.
type ErrorKind string

const (
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindAuth       ErrorKind = "authentication"
	ErrorKindAPI        ErrorKind = "api"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindCache      ErrorKind = "cache"
	ErrorKindTimeout    ErrorKind = "timeout"
)

// RecoveryStrategy is the remediation path chosen for a classified error.
type RecoveryStrategy string

const (
	RecoveryRetryAutomatic      RecoveryStrategy = "retry_automatic"
	RecoveryRetryManual         RecoveryStrategy = "retry_manual"
	RecoveryFallbackCache       RecoveryStrategy = "fallback_cache"
	RecoveryFallbackPartial     RecoveryStrategy = "fallback_partial"
	RecoveryRequireReconnection RecoveryStrategy = "require_reconnection"
	RecoveryRequireUserAction   RecoveryStrategy = "require_user_action"
	RecoveryNone                RecoveryStrategy = "no_recovery"
)

// ClassifiedError is a raw failure after classification. Callers never see a
// raw, unclassified error; they see this, with a human-readable message and
// suggested next actions.
type ClassifiedError struct {
	ID        string
	Kind      ErrorKind
	Operation OperationType
	TargetKey string
	Timestamp time.Time
	Retryable bool
	Strategy  RecoveryStrategy
	Message   string
	Actions   []string
	Cause     error
	Context   map[string]any
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// NewClassifiedError assigns a fresh ID and timestamp.
func NewClassifiedError(kind ErrorKind, op OperationType, targetKey string, cause error) *ClassifiedError {
	return &ClassifiedError{
		ID:        uuid.New().String(),
		Kind:      kind,
		Operation: op,
		TargetKey: targetKey,
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]any),
	}
}
