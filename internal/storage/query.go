package storage

import (
	"math/big"

	"evm-swap-indexer/internal/ethereum"
)

// Query limit bounds.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Order columns for swap event queries.
const (
	OrderByBlockNumber    = "block_number"
	OrderByBlockTimestamp = "block_timestamp"
	OrderByAmount0        = "amount0"
	OrderByAmount1        = "amount1"
	OrderByCreatedAt      = "created_at"
)

// Filter describes a swap event query: any combination of exact and range
// predicates, a single order column, and a bounded result count.
// Nil pointer fields are unset.
type Filter struct {
	Pool      *ethereum.Address // exact
	Sender    *ethereum.Address // exact
	Recipient *ethereum.Address // exact

	MinAmount0 *big.Int // amount0 >= MinAmount0
	MaxAmount0 *big.Int // amount0 <= MaxAmount0
	MinAmount1 *big.Int // amount1 >= MinAmount1
	MaxAmount1 *big.Int // amount1 <= MaxAmount1

	FromBlock *uint64 // block_number >= FromBlock
	ToBlock   *uint64 // block_number <= ToBlock
	FromTime  *uint64 // block_timestamp >= FromTime
	ToTime    *uint64 // block_timestamp <= ToTime

	OrderBy    string // one of the OrderBy* constants; default block_number
	Descending bool
	Limit      int // clamped to [1, MaxQueryLimit]; default DefaultQueryLimit
}

// validOrderColumns is the whitelist of sortable columns.
var validOrderColumns = map[string]struct{}{
	OrderByBlockNumber:    {},
	OrderByBlockTimestamp: {},
	OrderByAmount0:        {},
	OrderByAmount1:        {},
	OrderByCreatedAt:      {},
}

// Normalize applies defaults and clamps the limit.
// Returns ErrInvalidInput for an unknown order column.
func (f *Filter) Normalize() error {
	if f.OrderBy == "" {
		f.OrderBy = OrderByBlockNumber
	}
	if _, ok := validOrderColumns[f.OrderBy]; !ok {
		return ErrInvalidInput
	}
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	return nil
}
