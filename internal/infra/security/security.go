// Package security defines the identity/session and audit collaborator
// boundaries the sync core consults. Real implementations live outside this
// service; the log sink and allow-all validator here cover local operation
// and tests.
package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
	"github.com/haunv/profilesync/internal/infra/storage"
)

// ValidationResult reports whether a session is valid and why not.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// SessionValidator checks sessions and permissions before write-class sync
// operations.
type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) (ValidationResult, error)
	HasPermission(ctx context.Context, sessionID string, op domain.OperationType, resource string) (bool, error)
}

// AuditSink records permission checks and security-relevant sync transitions.
// A failing sink must never block the sync that produced the entry.
type AuditSink interface {
	Record(ctx context.Context, entry *domain.AuditEntry)
}

// AllowAll accepts every session and permission. Used when no identity
// backend is configured.
type AllowAll struct{}

func (AllowAll) Validate(ctx context.Context, sessionID string) (ValidationResult, error) {
	return ValidationResult{Valid: true}, nil
}

func (AllowAll) HasPermission(ctx context.Context, sessionID string, op domain.OperationType, resource string) (bool, error) {
	return true, nil
}

// LogSink writes audit entries to the structured log and, when a repository
// is configured, persists them asynchronously.
type LogSink struct {
	log  *slog.Logger
	repo storage.AuditRepository
}

// NewLogSink creates a sink; repo may be nil.
func NewLogSink(repo storage.AuditRepository) *LogSink {
	return &LogSink{log: slog.Default(), repo: repo}
}

func (s *LogSink) Record(ctx context.Context, entry *domain.AuditEntry) {
	s.log.Info("audit",
		"actor", entry.Actor,
		"operation", entry.Operation,
		"resource", entry.Resource,
		"action", entry.Action,
		"result", entry.Result,
	)
	if s.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.Record(ctx, entry); err != nil {
			s.log.Warn("failed to persist audit entry", "id", entry.ID, "error", err)
		}
	}()
}
