package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-swap-indexer/internal/ethereum"
	"evm-swap-indexer/internal/ethereum/stub"
	"evm-swap-indexer/internal/storage"
	"evm-swap-indexer/internal/storage/memory"
)

func TestRunner_IsolatesWorkerFailure(t *testing.T) {
	poolA := addr(0x21)
	poolB := addr(0x22)

	rpc := stub.NewRPCClient()
	store := memory.NewStore()

	extendChain(rpc, "main", 99, 105)
	rpc.SetLogs(101, []ethereum.Log{swapLog("main", poolA, 101, 0, 1800000000)})

	// Pool B carries a malformed log that halts its worker.
	bad := swapLog("main", poolB, 102, 0, 1800000000)
	bad.Data = append(bad.Data, 0x00)
	rpc.SetLogs(102, []ethereum.Log{bad})

	wa := newTestWorker(t, testConfig(poolA, 100, 105), rpc, store)
	wb := newTestWorker(t, testConfig(poolB, 100, 105), rpc, store)

	runner := NewRunner([]*Worker{wa, wb}, testLogger)
	err := runner.Run(context.Background())
	require.Error(t, err)

	// The healthy worker finished its bounded sync despite the failure.
	events, qerr := store.Query(context.Background(), storage.Filter{Pool: &poolA})
	require.NoError(t, qerr)
	assert.Len(t, events, 1)

	statuses := runner.Statuses()
	require.Len(t, statuses, 2)
	byPool := make(map[ethereum.Address]Status)
	for _, s := range statuses {
		byPool[s.Pool] = s
	}
	assert.Equal(t, StateError, byPool[poolB].State)
	assert.NotEmpty(t, byPool[poolB].ErrorDetail)
	assert.NotEqual(t, StateError, byPool[poolA].State)
}

func TestRunner_NoWorkers(t *testing.T) {
	runner := NewRunner(nil, testLogger)
	assert.Error(t, runner.Run(context.Background()))
}

func TestRunner_CancelStopsAllWorkers(t *testing.T) {
	poolA := addr(0x23)
	poolB := addr(0x24)

	rpc := stub.NewRPCClient()
	store := memory.NewStore()
	extendChain(rpc, "main", 99, 103)

	// Unbounded workers stay in the live loop until cancelled.
	wa := newTestWorker(t, testConfig(poolA, 100, 0), rpc, store)
	wb := newTestWorker(t, testConfig(poolB, 100, 0), rpc, store)

	runner := NewRunner([]*Worker{wa, wb}, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	waitFor(t, func() bool {
		for _, s := range runner.Statuses() {
			if s.State != StateLive {
				return false
			}
		}
		return true
	}, "both workers to go live")

	cancel()
	assert.NoError(t, <-done)
}
