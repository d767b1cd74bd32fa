package domain

import "evm-swap-indexer/internal/ethereum"

// Sync status constants.
const (
	SyncStatusBackfilling = "backfilling"
	SyncStatusLive        = "live"
	SyncStatusError       = "error"
)

// SyncCheckpoint records how far ingestion has progressed for one tracked
// contract/network pair. Corresponds to the sync_checkpoints table.
type SyncCheckpoint struct {
	Pool            ethereum.Address // tracked pool contract
	ChainID         uint64
	LastSyncedBlock uint64        // highest block fully processed and committed
	LastSyncedHash  ethereum.Hash // canonical hash at LastSyncedBlock, for reorg detection
	Status          string        // backfilling | live | error
	ErrorDetail     string        // populated when Status is error
	UpdatedAt       int64         // local timestamp (ms)
}

// Clone returns a copy of the checkpoint.
func (c *SyncCheckpoint) Clone() *SyncCheckpoint {
	cp := *c
	return &cp
}
