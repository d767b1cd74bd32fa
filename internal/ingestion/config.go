package ingestion

import (
	"fmt"
	"time"

	"evm-swap-indexer/internal/ethereum"
)

// Default worker configuration values.
const (
	DefaultBatchSize       = 1000
	DefaultPollInterval    = 5 * time.Second
	DefaultFetchAttempts   = 5
	DefaultFetchRetryDelay = 2 * time.Second
	DefaultFetchMaxDelay   = 30 * time.Second
	DefaultMaxReorgDepth   = 64
)

// Config describes one tracked contract/network pair. All fields are static;
// nothing is mutable at runtime.
type Config struct {
	Pool       ethereum.Address // tracked pool contract
	ChainID    uint64
	StartBlock uint64
	EndBlock   uint64 // 0 means sync indefinitely

	BatchSize       uint64        // max blocks per fetch+commit step
	PollInterval    time.Duration // head poll cadence in live state
	FetchAttempts   int           // bounded retries per fetch before Error
	FetchRetryDelay time.Duration // initial backoff between fetch attempts
	FetchMaxDelay   time.Duration // backoff ceiling
	MaxReorgDepth   uint64        // deepest reorg the worker will walk back
}

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FetchAttempts == 0 {
		c.FetchAttempts = DefaultFetchAttempts
	}
	if c.FetchRetryDelay == 0 {
		c.FetchRetryDelay = DefaultFetchRetryDelay
	}
	if c.FetchMaxDelay == 0 {
		c.FetchMaxDelay = DefaultFetchMaxDelay
	}
	if c.MaxReorgDepth == 0 {
		c.MaxReorgDepth = DefaultMaxReorgDepth
	}
	return c
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if c.Pool.IsZero() {
		return fmt.Errorf("pool address is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain id is required")
	}
	if c.StartBlock == 0 {
		return fmt.Errorf("start block must be at least 1")
	}
	if c.EndBlock != 0 && c.EndBlock < c.StartBlock {
		return fmt.Errorf("end block %d is before start block %d", c.EndBlock, c.StartBlock)
	}
	return nil
}
