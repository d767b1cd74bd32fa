package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"evm-swap-indexer/internal/ethereum"
)

// ComputeEventID computes a deterministic event id using SHA256.
// Formula: SHA256(blockHash|txIndex|logIndex)
// The inputs are immutable chain coordinates, so re-fetching the same log
// always yields the same id. Returns hex-encoded hash (64 characters).
func ComputeEventID(blockHash ethereum.Hash, txIndex, logIndex uint32) string {
	data := fmt.Sprintf("%s|%d|%d", blockHash.Hex(), txIndex, logIndex)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
