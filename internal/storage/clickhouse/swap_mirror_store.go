package clickhouse

import (
	"context"
	"encoding/hex"
	"fmt"

	"evm-swap-indexer/internal/domain"
)

// SwapMirrorStore appends committed swap events to the ClickHouse mirror.
// Postgres is the source of truth; duplicate ids written after a rollback
// and re-ingest are collapsed by the ReplacingMergeTree engine.
type SwapMirrorStore struct {
	conn *Conn
}

// NewSwapMirrorStore creates a new SwapMirrorStore.
func NewSwapMirrorStore(conn *Conn) *SwapMirrorStore {
	return &SwapMirrorStore{conn: conn}
}

// AppendSwaps inserts a batch of events. Safe to call with events that were
// already mirrored; the engine deduplicates by (pool, block_number, id).
func (s *SwapMirrorStore) AppendSwaps(ctx context.Context, events []*domain.SwapEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO swap_events (
			id, pool, sender, recipient,
			amount0, amount1, sqrt_price_x96, liquidity, tick,
			block_number, block_timestamp, tx_hash, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.ID,
			hex.EncodeToString(e.Pool.Bytes()),
			hex.EncodeToString(e.Sender.Bytes()),
			hex.EncodeToString(e.Recipient.Bytes()),
			e.Amount0, e.Amount1, e.SqrtPriceX96, e.Liquidity, e.Tick,
			e.BlockNumber, e.BlockTimestamp,
			hex.EncodeToString(e.TxHash.Bytes()),
			e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// CountByPool returns the number of mirrored rows for a pool. Used by
// operational checks comparing the mirror against Postgres.
func (s *SwapMirrorStore) CountByPool(ctx context.Context, pool string) (uint64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(DISTINCT id) FROM swap_events WHERE pool = ?
	`, normalizeHex(pool)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by pool: %w", err)
	}
	return count, nil
}

func normalizeHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
