package domain

import (
	"math/big"

	"evm-swap-indexer/internal/ethereum"
)

// SwapEvent represents one decoded pool Swap occurrence.
// Corresponds to the swap_events table in PostgreSQL. Rows are written once
// during ingestion and never mutated; reorg rollback deletes and re-ingests.
type SwapEvent struct {
	ID             string           // sha256(blockHash|txIndex|logIndex), hex. Primary key.
	Pool           ethereum.Address // emitting pool contract
	Sender         ethereum.Address
	Recipient      ethereum.Address
	Amount0        *big.Int // signed 256-bit token0 delta
	Amount1        *big.Int // signed 256-bit token1 delta
	SqrtPriceX96   *big.Int // unsigned 160-bit fixed-point sqrt price
	Liquidity      *big.Int // unsigned 128-bit in-range liquidity
	Tick           int32    // signed 24-bit tick, sign-extended
	BlockNumber    uint64
	BlockHash      ethereum.Hash
	BlockTimestamp uint64 // seconds since epoch, chain-derived
	TxHash         ethereum.Hash
	TxIndex        uint32
	LogIndex       uint32
	CreatedAt      int64 // local ingestion timestamp (ms), not chain-derived
}

// Clone returns a deep copy, so stored events cannot be mutated through
// shared big.Int pointers.
func (e *SwapEvent) Clone() *SwapEvent {
	cp := *e
	if e.Amount0 != nil {
		cp.Amount0 = new(big.Int).Set(e.Amount0)
	}
	if e.Amount1 != nil {
		cp.Amount1 = new(big.Int).Set(e.Amount1)
	}
	if e.SqrtPriceX96 != nil {
		cp.SqrtPriceX96 = new(big.Int).Set(e.SqrtPriceX96)
	}
	if e.Liquidity != nil {
		cp.Liquidity = new(big.Int).Set(e.Liquidity)
	}
	return &cp
}
