package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/ethereum"
	"evm-swap-indexer/internal/storage/migrations"
)

// setupTestDB creates a PostgreSQL container for testing and applies
// the embedded migrations. Returns a cleanup function that must be called
// after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	err = migrations.RunPostgresMigrations(ctx, pool)
	require.NoError(t, err, "failed to apply migrations")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// testAddress builds a deterministic 20-byte address from a seed byte.
func testAddress(seed byte) ethereum.Address {
	var a ethereum.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

// testHash builds a deterministic 32-byte hash from a seed string.
func testHash(seed string) ethereum.Hash {
	var h ethereum.Hash
	sum := sha256.Sum256([]byte(seed))
	copy(h[:], sum[:])
	return h
}

// testEvent builds a swap event at the given block with a unique id.
func testEvent(pool ethereum.Address, blockNumber uint64, logIndex uint32) *domain.SwapEvent {
	blockHash := testHash(fmt.Sprintf("block-%d", blockNumber))
	raw := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", blockHash.Hex(), 0, logIndex)))
	return &domain.SwapEvent{
		ID:             hex.EncodeToString(raw[:]),
		Pool:           pool,
		Sender:         testAddress(0xaa),
		Recipient:      testAddress(0xbb),
		Amount0:        big.NewInt(-500000000000000000),
		Amount1:        big.NewInt(1800000000),
		SqrtPriceX96:   new(big.Int).SetUint64(79228162514264337),
		Liquidity:      new(big.Int).SetUint64(12345678901234),
		Tick:           -203189,
		BlockNumber:    blockNumber,
		BlockHash:      blockHash,
		BlockTimestamp: 1700000000 + blockNumber*12,
		TxHash:         testHash(fmt.Sprintf("tx-%d-%d", blockNumber, logIndex)),
		TxIndex:        0,
		LogIndex:       logIndex,
		CreatedAt:      time.Now().UnixMilli(),
	}
}
