package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/storage"
)

func TestStore_CheckpointSaveAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	poolAddr := testAddress(0x10)

	_, err := store.GetCheckpoint(ctx, poolAddr, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	cp := &domain.SyncCheckpoint{
		Pool:            poolAddr,
		ChainID:         1,
		LastSyncedBlock: 1000,
		LastSyncedHash:  testHash("block-1000"),
		Status:          domain.SyncStatusBackfilling,
		UpdatedAt:       time.Now().UnixMilli(),
	}
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	got, err := store.GetCheckpoint(ctx, poolAddr, 1)
	require.NoError(t, err)
	assert.Equal(t, cp.Pool, got.Pool)
	assert.Equal(t, cp.ChainID, got.ChainID)
	assert.Equal(t, cp.LastSyncedBlock, got.LastSyncedBlock)
	assert.Equal(t, cp.LastSyncedHash, got.LastSyncedHash)
	assert.Equal(t, cp.Status, got.Status)
	assert.Empty(t, got.ErrorDetail)

	// Save replaces the existing row for the same (pool, chain) pair.
	cp.LastSyncedBlock = 1010
	cp.Status = domain.SyncStatusLive
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	got, err = store.GetCheckpoint(ctx, poolAddr, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1010), got.LastSyncedBlock)
	assert.Equal(t, domain.SyncStatusLive, got.Status)
}

func TestStore_CheckpointPerChain(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	poolAddr := testAddress(0x11)

	for _, chainID := range []uint64{1, 8453} {
		cp := &domain.SyncCheckpoint{
			Pool:            poolAddr,
			ChainID:         chainID,
			LastSyncedBlock: chainID * 10,
			Status:          domain.SyncStatusLive,
			UpdatedAt:       time.Now().UnixMilli(),
		}
		require.NoError(t, store.SaveCheckpoint(ctx, cp))
	}

	got, err := store.GetCheckpoint(ctx, poolAddr, 8453)
	require.NoError(t, err)
	assert.Equal(t, uint64(84530), got.LastSyncedBlock)

	got, err = store.GetCheckpoint(ctx, poolAddr, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.LastSyncedBlock)
}

func TestStore_CommitRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	poolAddr := testAddress(0x12)
	events := []*domain.SwapEvent{
		testEvent(poolAddr, 100, 0),
		testEvent(poolAddr, 101, 0),
	}
	cp := &domain.SyncCheckpoint{
		Pool:            poolAddr,
		ChainID:         1,
		LastSyncedBlock: 101,
		LastSyncedHash:  testHash("block-101"),
		Status:          domain.SyncStatusBackfilling,
		UpdatedAt:       time.Now().UnixMilli(),
	}

	inserted, err := store.CommitRange(ctx, events, cp)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	got, err := store.GetCheckpoint(ctx, poolAddr, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), got.LastSyncedBlock)

	// Replaying the same range advances nothing but stays consistent.
	inserted, err = store.CommitRange(ctx, events, cp)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestStore_RollbackTo(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	poolAddr := testAddress(0x13)
	var events []*domain.SwapEvent
	for block := uint64(95); block <= 105; block++ {
		events = append(events, testEvent(poolAddr, block, 0))
	}
	cp := &domain.SyncCheckpoint{
		Pool:            poolAddr,
		ChainID:         1,
		LastSyncedBlock: 105,
		LastSyncedHash:  testHash("block-105"),
		Status:          domain.SyncStatusLive,
		UpdatedAt:       time.Now().UnixMilli(),
	}
	_, err := store.CommitRange(ctx, events, cp)
	require.NoError(t, err)

	// Reorg detected at 100: roll back to 99.
	rollback := &domain.SyncCheckpoint{
		Pool:            poolAddr,
		ChainID:         1,
		LastSyncedBlock: 99,
		LastSyncedHash:  testHash("block-99"),
		Status:          domain.SyncStatusBackfilling,
		UpdatedAt:       time.Now().UnixMilli(),
	}
	deleted, err := store.RollbackTo(ctx, rollback)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	got, err := store.GetCheckpoint(ctx, poolAddr, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got.LastSyncedBlock)
	assert.Equal(t, domain.SyncStatusBackfilling, got.Status)

	// Events at or below the rollback block survive.
	_, err = store.GetByID(ctx, testEvent(poolAddr, 99, 0).ID)
	require.NoError(t, err)
	_, err = store.GetByID(ctx, testEvent(poolAddr, 100, 0).ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
