package storage

import (
	"context"

	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/ethereum"
)

// SwapEventStore provides access to swap_events storage.
type SwapEventStore interface {
	// Upsert inserts an event if its id is absent and is a no-op if present.
	// Fields are never overwritten after first insertion: an id derives from
	// immutable chain data, so a re-insert carries identical values.
	Upsert(ctx context.Context, e *domain.SwapEvent) error

	// UpsertBulk inserts multiple events atomically, skipping duplicates.
	// Returns the number of rows actually inserted.
	UpsertBulk(ctx context.Context, events []*domain.SwapEvent) (int, error)

	// GetByID retrieves an event by its id. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*domain.SwapEvent, error)

	// DeleteFrom removes all rows for the pool with blockNumber >= the given
	// value. Used for reorg rollback. Returns the number of rows deleted.
	DeleteFrom(ctx context.Context, pool ethereum.Address, blockNumber uint64) (int64, error)

	// Query retrieves events matching the filter, ordered and bounded.
	Query(ctx context.Context, f Filter) ([]*domain.SwapEvent, error)
}

// CheckpointStore provides persistence for sync progress, one row per
// tracked contract/network pair.
type CheckpointStore interface {
	// GetCheckpoint returns the checkpoint for a pool/chain pair.
	// Returns ErrNotFound if no sync has been recorded yet.
	GetCheckpoint(ctx context.Context, pool ethereum.Address, chainID uint64) (*domain.SyncCheckpoint, error)

	// SaveCheckpoint creates or replaces the checkpoint.
	SaveCheckpoint(ctx context.Context, cp *domain.SyncCheckpoint) error
}

// SyncStore combines event and checkpoint storage with the atomic
// operations the sync driver requires: a crash can never leave a block
// range visible without its checkpoint, or vice versa.
type SyncStore interface {
	SwapEventStore
	CheckpointStore

	// CommitRange upserts a batch of events and saves the checkpoint in a
	// single transaction. Returns the number of events actually inserted.
	CommitRange(ctx context.Context, events []*domain.SwapEvent, cp *domain.SyncCheckpoint) (int, error)

	// RollbackTo deletes all events for the checkpoint's pool with
	// blockNumber > cp.LastSyncedBlock and saves the regressed checkpoint in
	// a single transaction. Returns the number of rows deleted.
	RollbackTo(ctx context.Context, cp *domain.SyncCheckpoint) (int64, error)
}
