package postgres

import (
	"context"
	"fmt"

	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/ethereum"
	"evm-swap-indexer/internal/storage"
)

const saveCheckpointQuery = `
	INSERT INTO sync_checkpoints (
		pool, chain_id, last_synced_block, last_synced_hash,
		status, error_detail, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (pool, chain_id) DO UPDATE SET
		last_synced_block = EXCLUDED.last_synced_block,
		last_synced_hash = EXCLUDED.last_synced_hash,
		status = EXCLUDED.status,
		error_detail = EXCLUDED.error_detail,
		updated_at = EXCLUDED.updated_at
`

// GetCheckpoint returns the checkpoint for a pool/chain pair.
// Returns ErrNotFound if no sync has been recorded yet.
func (s *Store) GetCheckpoint(ctx context.Context, pool ethereum.Address, chainID uint64) (*domain.SyncCheckpoint, error) {
	query := `
		SELECT pool, chain_id, last_synced_block, last_synced_hash, status, error_detail, updated_at
		FROM sync_checkpoints
		WHERE pool = $1 AND chain_id = $2
	`

	var (
		cp        domain.SyncCheckpoint
		poolBytes []byte
		chain     int64
		block     int64
		hash      []byte
	)
	err := s.pool.QueryRow(ctx, query, pool.Bytes(), int64(chainID)).Scan(
		&poolBytes, &chain, &block, &hash, &cp.Status, &cp.ErrorDetail, &cp.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	if cp.Pool, err = ethereum.AddressFromBytes(poolBytes); err != nil {
		return nil, err
	}
	if cp.LastSyncedHash, err = ethereum.HashFromBytes(hash); err != nil {
		return nil, err
	}
	cp.ChainID = uint64(chain)
	cp.LastSyncedBlock = uint64(block)

	return &cp, nil
}

// SaveCheckpoint creates or replaces the checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.SyncCheckpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}
	return saveCheckpoint(ctx, s.pool, cp)
}

// saveCheckpoint writes the checkpoint within the given scope.
func saveCheckpoint(ctx context.Context, db dbtx, cp *domain.SyncCheckpoint) error {
	_, err := db.Exec(ctx, saveCheckpointQuery,
		cp.Pool.Bytes(),
		int64(cp.ChainID),
		int64(cp.LastSyncedBlock),
		cp.LastSyncedHash.Bytes(),
		cp.Status,
		cp.ErrorDetail,
		cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// CommitRange upserts a batch of events and saves the checkpoint in a
// single transaction.
func (s *Store) CommitRange(ctx context.Context, events []*domain.SwapEvent, cp *domain.SyncCheckpoint) (int, error) {
	if cp == nil {
		return 0, storage.ErrInvalidInput
	}
	for _, e := range events {
		if e == nil || e.ID == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := upsertEvents(ctx, tx, events)
	if err != nil {
		return 0, err
	}
	if err := saveCheckpoint(ctx, tx, cp); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// RollbackTo deletes all events for the checkpoint's pool above
// cp.LastSyncedBlock and saves the regressed checkpoint in a single
// transaction.
func (s *Store) RollbackTo(ctx context.Context, cp *domain.SyncCheckpoint) (int64, error) {
	if cp == nil {
		return 0, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM swap_events WHERE pool = $1 AND block_number > $2`,
		cp.Pool.Bytes(), int64(cp.LastSyncedBlock),
	)
	if err != nil {
		return 0, fmt.Errorf("rollback delete: %w", err)
	}
	if err := saveCheckpoint(ctx, tx, cp); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return tag.RowsAffected(), nil
}
