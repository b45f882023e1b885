package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
)

// AuditRepo implements storage.AuditRepository using PostgreSQL.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new PostgreSQL audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

type auditRow struct {
	ID         string    `db:"id"`
	Actor      string    `db:"actor"`
	SessionID  string    `db:"session_id"`
	Operation  string    `db:"operation"`
	Resource   string    `db:"resource"`
	Action     string    `db:"action"`
	Result     string    `db:"result"`
	Metadata   []byte    `db:"metadata"`
	DurationMS int64     `db:"duration_ms"`
	Error      string    `db:"error"`
	CreatedAt  time.Time `db:"created_at"`
}

// Record appends an audit entry.
func (r *AuditRepo) Record(ctx context.Context, entry *domain.AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, actor, session_id, operation, resource, action, result,
			metadata, duration_ms, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.Actor, entry.SessionID, string(entry.Operation),
		entry.Resource, entry.Action, entry.Result, metadata,
		entry.Duration.Milliseconds(), entry.Error, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []auditRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, actor, session_id, operation, resource, action, result,
		       metadata, duration_ms, error, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	entries := make([]*domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry := &domain.AuditEntry{
			ID:        row.ID,
			Actor:     row.Actor,
			SessionID: row.SessionID,
			Operation: domain.OperationType(row.Operation),
			Resource:  row.Resource,
			Action:    row.Action,
			Result:    row.Result,
			Duration:  time.Duration(row.DurationMS) * time.Millisecond,
			Error:     row.Error,
			CreatedAt: row.CreatedAt,
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
