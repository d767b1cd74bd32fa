package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/ethereum"
	"evm-swap-indexer/internal/storage"
)

var testPool = ethereum.Address{0xaa, 0x01}

// makeEvent builds a swap event with a derived-looking id.
func makeEvent(id string, block uint64, amount1 int64) *domain.SwapEvent {
	return &domain.SwapEvent{
		ID:             id,
		Pool:           testPool,
		Sender:         ethereum.Address{0x01},
		Recipient:      ethereum.Address{0x02},
		Amount0:        big.NewInt(-1000),
		Amount1:        big.NewInt(amount1),
		SqrtPriceX96:   big.NewInt(1),
		Liquidity:      big.NewInt(1),
		Tick:           100,
		BlockNumber:    block,
		BlockTimestamp: block * 12,
		CreatedAt:      1700000000000,
	}
}

func TestStore_UpsertIdempotent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	e := makeEvent("id1", 100, 500)
	if err := store.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Second upsert with different field values must not overwrite.
	altered := makeEvent("id1", 100, 999)
	if err := store.Upsert(ctx, altered); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "id1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Amount1.Int64() != 500 {
		t.Errorf("Amount1 = %d, want 500 (first insert wins)", got.Amount1.Int64())
	}
}

func TestStore_UpsertBulkSkipsDuplicates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, makeEvent("id1", 100, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	inserted, err := store.UpsertBulk(ctx, []*domain.SwapEvent{
		makeEvent("id1", 100, 1),
		makeEvent("id2", 101, 2),
		makeEvent("id3", 102, 3),
	})
	if err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	store := NewStore()

	_, err := store.GetByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DeleteFromAndReingest(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	batch := []*domain.SwapEvent{
		makeEvent("id1", 98, 1),
		makeEvent("id2", 99, 2),
		makeEvent("id3", 100, 3),
		makeEvent("id4", 101, 4),
	}
	if _, err := store.UpsertBulk(ctx, batch); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	before, err := store.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	deleted, err := store.DeleteFrom(ctx, testPool, 100)
	if err != nil {
		t.Fatalf("DeleteFrom failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	remaining, _ := store.Query(ctx, storage.Filter{})
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(remaining))
	}

	// Re-ingesting [100, head] reproduces the exact same rows.
	if _, err := store.UpsertBulk(ctx, []*domain.SwapEvent{
		makeEvent("id3", 100, 3),
		makeEvent("id4", 101, 4),
	}); err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}

	after, err := store.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("row count after re-ingest = %d, want %d", len(after), len(before))
	}
	for i := range after {
		if after[i].ID != before[i].ID || after[i].Amount1.Cmp(before[i].Amount1) != 0 {
			t.Errorf("row %d differs after rollback + re-ingest", i)
		}
	}
}

func TestStore_DeleteFrom_OtherPoolUntouched(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	other := makeEvent("other", 100, 1)
	other.Pool = ethereum.Address{0xbb}
	if err := store.Upsert(ctx, other); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, makeEvent("mine", 100, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	deleted, _ := store.DeleteFrom(ctx, testPool, 0)
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := store.GetByID(ctx, "other"); err != nil {
		t.Errorf("other pool's event was deleted: %v", err)
	}
}

func TestStore_QueryAmountThreshold(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		e := makeEvent(fmt.Sprintf("id%d", i), uint64(100+i), int64(i)*500_000_000)
		if err := store.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	min := big.NewInt(1_000_000_001)
	got, err := store.Query(ctx, storage.Filter{
		MinAmount1: min,
		OrderBy:    storage.OrderByAmount1,
		Descending: true,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// Events with amount1 in {1.5e9, 2e9, ..., 4.5e9} qualify.
	if len(got) != 7 {
		t.Fatalf("expected 7 events, got %d", len(got))
	}
	for i, e := range got {
		if e.Amount1.Cmp(min) < 0 {
			t.Errorf("event %d amount1 %s below threshold", i, e.Amount1)
		}
		if i > 0 && got[i-1].Amount1.Cmp(e.Amount1) < 0 {
			t.Errorf("results not in descending amount1 order at %d", i)
		}
	}
}

func TestStore_QueryLimitAndOrder(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Upsert(ctx, makeEvent(fmt.Sprintf("id%d", i), uint64(100+i), 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := store.Query(ctx, storage.Filter{
		OrderBy:    storage.OrderByBlockNumber,
		Descending: true,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].BlockNumber != 104 || got[1].BlockNumber != 103 {
		t.Errorf("unexpected order: %d, %d", got[0].BlockNumber, got[1].BlockNumber)
	}
}

func TestStore_QueryInvalidOrderColumn(t *testing.T) {
	store := NewStore()

	_, err := store.Query(context.Background(), storage.Filter{OrderBy: "amount0; DROP TABLE"})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStore_Checkpoint(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.GetCheckpoint(ctx, testPool, 1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cp := &domain.SyncCheckpoint{
		Pool:            testPool,
		ChainID:         1,
		LastSyncedBlock: 150,
		Status:          domain.SyncStatusBackfilling,
	}
	if err := store.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	got, err := store.GetCheckpoint(ctx, testPool, 1)
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if got.LastSyncedBlock != 150 || got.Status != domain.SyncStatusBackfilling {
		t.Errorf("checkpoint mismatch: %+v", got)
	}
}

func TestStore_CommitRange(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	cp := &domain.SyncCheckpoint{
		Pool:            testPool,
		ChainID:         1,
		LastSyncedBlock: 101,
		Status:          domain.SyncStatusLive,
	}
	inserted, err := store.CommitRange(ctx, []*domain.SwapEvent{
		makeEvent("id1", 100, 1),
		makeEvent("id2", 101, 2),
	}, cp)
	if err != nil {
		t.Fatalf("CommitRange failed: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}

	got, err := store.GetCheckpoint(ctx, testPool, 1)
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if got.LastSyncedBlock != 101 {
		t.Errorf("LastSyncedBlock = %d, want 101", got.LastSyncedBlock)
	}
}

func TestStore_RollbackTo(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.UpsertBulk(ctx, []*domain.SwapEvent{
		makeEvent("id1", 99, 1),
		makeEvent("id2", 100, 2),
		makeEvent("id3", 101, 3),
	}); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	cp := &domain.SyncCheckpoint{
		Pool:            testPool,
		ChainID:         1,
		LastSyncedBlock: 99,
		Status:          domain.SyncStatusBackfilling,
	}
	deleted, err := store.RollbackTo(ctx, cp)
	if err != nil {
		t.Fatalf("RollbackTo failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	remaining, _ := store.Query(ctx, storage.Filter{})
	if len(remaining) != 1 || remaining[0].ID != "id1" {
		t.Errorf("unexpected remaining rows: %+v", remaining)
	}
}
