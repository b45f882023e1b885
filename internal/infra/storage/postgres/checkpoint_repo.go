package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haunv/profilesync/internal/core/domain"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	TargetKey  string    `db:"target_key"`
	LastHash   int64     `db:"last_hash"`
	LastSyncAt time.Time `db:"last_sync_at"`
	ItemKeys   []byte    `db:"item_keys"`
}

func (row *checkpointRow) toDomain() (*domain.SyncCheckpoint, error) {
	cp := &domain.SyncCheckpoint{
		TargetKey:  row.TargetKey,
		LastHash:   uint64(row.LastHash),
		LastSyncAt: row.LastSyncAt,
	}
	if len(row.ItemKeys) > 0 {
		if err := json.Unmarshal(row.ItemKeys, &cp.ItemKeys); err != nil {
			return nil, fmt.Errorf("failed to decode item keys: %w", err)
		}
	}
	return cp, nil
}

// Save upserts a checkpoint.
func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.SyncCheckpoint) error {
	itemKeys, err := json.Marshal(cp.ItemKeys)
	if err != nil {
		return fmt.Errorf("failed to encode item keys: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (target_key, last_hash, last_sync_at, item_keys)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (target_key) DO UPDATE SET
			last_hash = EXCLUDED.last_hash,
			last_sync_at = EXCLUDED.last_sync_at,
			item_keys = EXCLUDED.item_keys`,
		cp.TargetKey, int64(cp.LastHash), cp.LastSyncAt, itemKeys,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Get retrieves a checkpoint by target key, nil if not found.
func (r *CheckpointRepo) Get(ctx context.Context, targetKey string) (*domain.SyncCheckpoint, error) {
	var row checkpointRow
	err := r.db.GetContext(ctx, &row, `
		SELECT target_key, last_hash, last_sync_at, item_keys
		FROM sync_checkpoints WHERE target_key = $1`, targetKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return row.toDomain()
}

// Delete removes a checkpoint.
func (r *CheckpointRepo) Delete(ctx context.Context, targetKey string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_checkpoints WHERE target_key = $1`, targetKey); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns all checkpoints.
func (r *CheckpointRepo) List(ctx context.Context) ([]*domain.SyncCheckpoint, error) {
	var rows []checkpointRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT target_key, last_hash, last_sync_at, item_keys
		FROM sync_checkpoints ORDER BY target_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	cps := make([]*domain.SyncCheckpoint, 0, len(rows))
	for i := range rows {
		cp, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}
