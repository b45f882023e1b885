package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/haunv/profilesync/internal/core/domain"
)

// ProfileRepo implements storage.ProfileRepository using PostgreSQL.
type ProfileRepo struct {
	db *DB
}

// NewProfileRepo creates a new PostgreSQL profile repository.
func NewProfileRepo(db *DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

type profileRow struct {
	Address             string         `db:"address"`
	DisplayName         string         `db:"display_name"`
	Stats               []byte         `db:"stats"`
	Collections         []byte         `db:"collections"`
	Achievements        []byte         `db:"achievements"`
	CollectionContracts pq.StringArray `db:"collection_contracts"`
	UpdatedAt           time.Time      `db:"updated_at"`
	LastSyncAt          time.Time      `db:"last_sync_at"`
}

// Save upserts a profile.
func (r *ProfileRepo) Save(ctx context.Context, profile *domain.Profile) error {
	stats, err := json.Marshal(profile.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	collections, err := json.Marshal(profile.Collections)
	if err != nil {
		return fmt.Errorf("failed to encode collections: %w", err)
	}
	achievements, err := json.Marshal(profile.Achievements)
	if err != nil {
		return fmt.Errorf("failed to encode achievements: %w", err)
	}

	// Contract list is denormalized into a text[] for eligibility queries.
	contracts := make([]string, 0, len(profile.Collections))
	for _, c := range profile.Collections {
		contracts = append(contracts, c.Contract)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO profiles (
			address, display_name, stats, collections, achievements,
			collection_contracts, updated_at, last_sync_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			stats = EXCLUDED.stats,
			collections = EXCLUDED.collections,
			achievements = EXCLUDED.achievements,
			collection_contracts = EXCLUDED.collection_contracts,
			updated_at = EXCLUDED.updated_at,
			last_sync_at = EXCLUDED.last_sync_at`,
		profile.Address, profile.DisplayName, stats, collections, achievements,
		pq.Array(contracts), profile.UpdatedAt, profile.LastSyncAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Get retrieves a profile by address, nil if not found.
func (r *ProfileRepo) Get(ctx context.Context, address string) (*domain.Profile, error) {
	var row profileRow
	err := r.db.GetContext(ctx, &row, `
		SELECT address, display_name, stats, collections, achievements,
		       collection_contracts, updated_at, last_sync_at
		FROM profiles WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	profile := &domain.Profile{
		Address:     row.Address,
		DisplayName: row.DisplayName,
		UpdatedAt:   row.UpdatedAt,
		LastSyncAt:  row.LastSyncAt,
	}
	if err := json.Unmarshal(row.Stats, &profile.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	if len(row.Collections) > 0 {
		if err := json.Unmarshal(row.Collections, &profile.Collections); err != nil {
			return nil, fmt.Errorf("failed to decode collections: %w", err)
		}
	}
	if len(row.Achievements) > 0 {
		if err := json.Unmarshal(row.Achievements, &profile.Achievements); err != nil {
			return nil, fmt.Errorf("failed to decode achievements: %w", err)
		}
	}
	return profile, nil
}

// Delete removes a profile.
func (r *ProfileRepo) Delete(ctx context.Context, address string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE address = $1`, address); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// HoldsContract reports whether a stored profile holds any of the given
// contracts, without decoding the full collection payload.
func (r *ProfileRepo) HoldsContract(ctx context.Context, address string, contracts []string) (bool, error) {
	var holds bool
	err := r.db.GetContext(ctx, &holds, `
		SELECT collection_contracts && $2
		FROM profiles WHERE address = $1`, address, pq.Array(contracts))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check contracts: %w", err)
	}
	return holds, nil
}
