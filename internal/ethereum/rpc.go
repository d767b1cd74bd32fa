package ethereum

import "context"

// Client defines the EVM JSON-RPC interface consumed by the sync driver.
type Client interface {
	// GetLogs retrieves all logs matching the filter within the inclusive
	// block range. Implementations must return either the complete set or
	// an error, never a silently truncated result.
	GetLogs(ctx context.Context, q FilterQuery) ([]Log, error)

	// GetBlockByNumber retrieves a block header by height.
	// Returns nil if the block does not exist yet.
	GetBlockByNumber(ctx context.Context, number uint64) (*BlockHeader, error)

	// BlockNumber returns the current chain head height.
	BlockNumber(ctx context.Context) (uint64, error)
}

// FilterQuery describes an eth_getLogs filter.
type FilterQuery struct {
	Address   Address
	Topics    []Hash // position-indexed; only topic0 is used by this indexer
	FromBlock uint64
	ToBlock   uint64 // inclusive
}
