package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"

	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/ethereum"
	"evm-swap-indexer/internal/storage"
)

// Store implements storage.SyncStore using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.SyncStore = (*Store)(nil)

const upsertEventQuery = `
	INSERT INTO swap_events (
		id, pool, sender, recipient,
		amount0, amount1, sqrt_price_x96, liquidity, tick,
		block_number, block_hash, block_timestamp,
		tx_hash, tx_index, log_index, created_at
	) VALUES (
		$1, $2, $3, $4,
		$5::numeric, $6::numeric, $7::numeric, $8::numeric, $9,
		$10, $11, $12,
		$13, $14, $15, $16
	)
	ON CONFLICT (id) DO NOTHING
`

// Upsert inserts an event if its id is absent; no-op on duplicate.
func (s *Store) Upsert(ctx context.Context, e *domain.SwapEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, err := upsertEvent(ctx, s.pool, e); err != nil {
		return err
	}
	return nil
}

// UpsertBulk inserts multiple events atomically, skipping duplicates.
// Returns the number of rows actually inserted.
func (s *Store) UpsertBulk(ctx context.Context, events []*domain.SwapEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	for _, e := range events {
		if e == nil || e.ID == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := upsertEvents(ctx, tx, events)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// upsertEvent inserts one event. Returns true if a row was written.
func upsertEvent(ctx context.Context, db dbtx, e *domain.SwapEvent) (bool, error) {
	tag, err := db.Exec(ctx, upsertEventQuery,
		e.ID,
		e.Pool.Bytes(),
		e.Sender.Bytes(),
		e.Recipient.Bytes(),
		e.Amount0.String(),
		e.Amount1.String(),
		e.SqrtPriceX96.String(),
		e.Liquidity.String(),
		e.Tick,
		int64(e.BlockNumber),
		e.BlockHash.Bytes(),
		int64(e.BlockTimestamp),
		e.TxHash.Bytes(),
		int32(e.TxIndex),
		int32(e.LogIndex),
		e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert swap event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// upsertEvents inserts a batch within the given scope.
func upsertEvents(ctx context.Context, db dbtx, events []*domain.SwapEvent) (int, error) {
	inserted := 0
	for _, e := range events {
		ok, err := upsertEvent(ctx, db, e)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

const selectEventColumns = `
	id, pool, sender, recipient,
	amount0::text, amount1::text, sqrt_price_x96::text, liquidity::text, tick,
	block_number, block_hash, block_timestamp,
	tx_hash, tx_index, log_index, created_at
`

// GetByID retrieves an event by its id. Returns ErrNotFound if absent.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.SwapEvent, error) {
	query := `SELECT ` + selectEventColumns + ` FROM swap_events WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	e, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get swap event by id: %w", err)
	}
	return e, nil
}

// DeleteFrom removes all rows for the pool with block_number >= given value.
func (s *Store) DeleteFrom(ctx context.Context, pool ethereum.Address, blockNumber uint64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM swap_events WHERE pool = $1 AND block_number >= $2`,
		pool.Bytes(), int64(blockNumber),
	)
	if err != nil {
		return 0, fmt.Errorf("delete swap events from block %d: %w", blockNumber, err)
	}
	return tag.RowsAffected(), nil
}

// Query retrieves events matching the filter, ordered and bounded.
// The order column comes from a whitelist, never from caller input directly.
func (s *Store) Query(ctx context.Context, f storage.Filter) ([]*domain.SwapEvent, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	addCond := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Pool != nil {
		addCond("pool = $%d", f.Pool.Bytes())
	}
	if f.Sender != nil {
		addCond("sender = $%d", f.Sender.Bytes())
	}
	if f.Recipient != nil {
		addCond("recipient = $%d", f.Recipient.Bytes())
	}
	if f.MinAmount0 != nil {
		addCond("amount0 >= $%d::numeric", f.MinAmount0.String())
	}
	if f.MaxAmount0 != nil {
		addCond("amount0 <= $%d::numeric", f.MaxAmount0.String())
	}
	if f.MinAmount1 != nil {
		addCond("amount1 >= $%d::numeric", f.MinAmount1.String())
	}
	if f.MaxAmount1 != nil {
		addCond("amount1 <= $%d::numeric", f.MaxAmount1.String())
	}
	if f.FromBlock != nil {
		addCond("block_number >= $%d", int64(*f.FromBlock))
	}
	if f.ToBlock != nil {
		addCond("block_number <= $%d", int64(*f.ToBlock))
	}
	if f.FromTime != nil {
		addCond("block_timestamp >= $%d", int64(*f.FromTime))
	}
	if f.ToTime != nil {
		addCond("block_timestamp <= $%d", int64(*f.ToTime))
	}

	query := `SELECT ` + selectEventColumns + ` FROM swap_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	direction := "ASC"
	if f.Descending {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", f.OrderBy, direction, direction)

	args = append(args, f.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query swap events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans multiple rows into a slice of SwapEvent.
func scanEvents(rows pgx.Rows) ([]*domain.SwapEvent, error) {
	var events []*domain.SwapEvent

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap event row: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap event rows: %w", err)
	}

	return events, nil
}

// scanEvent scans one row in selectEventColumns order.
func scanEvent(row pgx.Row) (*domain.SwapEvent, error) {
	var (
		e         domain.SwapEvent
		pool      []byte
		sender    []byte
		recipient []byte
		amount0   string
		amount1   string
		sqrtPrice string
		liquidity string
		blockNum  int64
		blockHash []byte
		blockTime int64
		txHash    []byte
		txIndex   int32
		logIndex  int32
	)

	err := row.Scan(
		&e.ID, &pool, &sender, &recipient,
		&amount0, &amount1, &sqrtPrice, &liquidity, &e.Tick,
		&blockNum, &blockHash, &blockTime,
		&txHash, &txIndex, &logIndex, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.Pool, err = ethereum.AddressFromBytes(pool); err != nil {
		return nil, err
	}
	if e.Sender, err = ethereum.AddressFromBytes(sender); err != nil {
		return nil, err
	}
	if e.Recipient, err = ethereum.AddressFromBytes(recipient); err != nil {
		return nil, err
	}
	if e.BlockHash, err = ethereum.HashFromBytes(blockHash); err != nil {
		return nil, err
	}
	if e.TxHash, err = ethereum.HashFromBytes(txHash); err != nil {
		return nil, err
	}

	if e.Amount0, err = parseNumeric(amount0); err != nil {
		return nil, err
	}
	if e.Amount1, err = parseNumeric(amount1); err != nil {
		return nil, err
	}
	if e.SqrtPriceX96, err = parseNumeric(sqrtPrice); err != nil {
		return nil, err
	}
	if e.Liquidity, err = parseNumeric(liquidity); err != nil {
		return nil, err
	}

	e.BlockNumber = uint64(blockNum)
	e.BlockTimestamp = uint64(blockTime)
	e.TxIndex = uint32(txIndex)
	e.LogIndex = uint32(logIndex)

	return &e, nil
}

// parseNumeric parses a numeric column rendered as text.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse numeric %q", s)
	}
	return v, nil
}
