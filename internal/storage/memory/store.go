package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/ethereum"
	"evm-swap-indexer/internal/storage"
)

// Store is an in-memory implementation of storage.SyncStore.
// Used in tests and for running workers without a database.
type Store struct {
	mu          sync.RWMutex
	events      map[string]*domain.SwapEvent      // keyed by event id
	checkpoints map[string]*domain.SyncCheckpoint // keyed by pool|chainID
}

// NewStore creates a new in-memory sync store.
func NewStore() *Store {
	return &Store{
		events:      make(map[string]*domain.SwapEvent),
		checkpoints: make(map[string]*domain.SyncCheckpoint),
	}
}

// Compile-time interface check.
var _ storage.SyncStore = (*Store)(nil)

// checkpointKey generates a unique key for a pool/chain pair.
func checkpointKey(pool ethereum.Address, chainID uint64) string {
	return fmt.Sprintf("%s|%d", pool.Hex(), chainID)
}

// Upsert inserts an event if its id is absent; no-op on duplicate.
func (s *Store) Upsert(_ context.Context, e *domain.SwapEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertLocked(e)
	return nil
}

// UpsertBulk inserts multiple events atomically, skipping duplicates.
func (s *Store) UpsertBulk(_ context.Context, events []*domain.SwapEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching state.
	for _, e := range events {
		if e == nil || e.ID == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	inserted := 0
	for _, e := range events {
		if s.upsertLocked(e) {
			inserted++
		}
	}
	return inserted, nil
}

// upsertLocked inserts the event if absent. Returns true if inserted.
func (s *Store) upsertLocked(e *domain.SwapEvent) bool {
	if _, exists := s.events[e.ID]; exists {
		return false
	}
	s.events[e.ID] = e.Clone()
	return true
}

// GetByID retrieves an event by its id. Returns ErrNotFound if absent.
func (s *Store) GetByID(_ context.Context, id string) (*domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.Clone(), nil
}

// DeleteFrom removes all rows for the pool with blockNumber >= given value.
func (s *Store) DeleteFrom(_ context.Context, pool ethereum.Address, blockNumber uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteFromLocked(pool, blockNumber), nil
}

func (s *Store) deleteFromLocked(pool ethereum.Address, blockNumber uint64) int64 {
	var deleted int64
	for id, e := range s.events {
		if e.Pool == pool && e.BlockNumber >= blockNumber {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted
}

// Query retrieves events matching the filter, ordered and bounded.
func (s *Store) Query(_ context.Context, f storage.Filter) ([]*domain.SwapEvent, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []*domain.SwapEvent
	for _, e := range s.events {
		if matches(e, f) {
			matched = append(matched, e.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		c := compare(matched[i], matched[j], f.OrderBy)
		if c == 0 {
			// Stable tiebreak on id for deterministic output.
			c = compareStrings(matched[i].ID, matched[j].ID)
		}
		if f.Descending {
			return c > 0
		}
		return c < 0
	})

	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// matches applies all set predicates.
func matches(e *domain.SwapEvent, f storage.Filter) bool {
	if f.Pool != nil && e.Pool != *f.Pool {
		return false
	}
	if f.Sender != nil && e.Sender != *f.Sender {
		return false
	}
	if f.Recipient != nil && e.Recipient != *f.Recipient {
		return false
	}
	if f.MinAmount0 != nil && e.Amount0.Cmp(f.MinAmount0) < 0 {
		return false
	}
	if f.MaxAmount0 != nil && e.Amount0.Cmp(f.MaxAmount0) > 0 {
		return false
	}
	if f.MinAmount1 != nil && e.Amount1.Cmp(f.MinAmount1) < 0 {
		return false
	}
	if f.MaxAmount1 != nil && e.Amount1.Cmp(f.MaxAmount1) > 0 {
		return false
	}
	if f.FromBlock != nil && e.BlockNumber < *f.FromBlock {
		return false
	}
	if f.ToBlock != nil && e.BlockNumber > *f.ToBlock {
		return false
	}
	if f.FromTime != nil && e.BlockTimestamp < *f.FromTime {
		return false
	}
	if f.ToTime != nil && e.BlockTimestamp > *f.ToTime {
		return false
	}
	return true
}

// compare orders two events by the given column: -1, 0 or 1.
func compare(a, b *domain.SwapEvent, column string) int {
	switch column {
	case storage.OrderByAmount0:
		return a.Amount0.Cmp(b.Amount0)
	case storage.OrderByAmount1:
		return a.Amount1.Cmp(b.Amount1)
	case storage.OrderByBlockTimestamp:
		return compareUint64(a.BlockTimestamp, b.BlockTimestamp)
	case storage.OrderByCreatedAt:
		return compareInt64(a.CreatedAt, b.CreatedAt)
	default:
		return compareUint64(a.BlockNumber, b.BlockNumber)
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// GetCheckpoint returns the checkpoint for a pool/chain pair.
func (s *Store) GetCheckpoint(_ context.Context, pool ethereum.Address, chainID uint64) (*domain.SyncCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointKey(pool, chainID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cp.Clone(), nil
}

// SaveCheckpoint creates or replaces the checkpoint.
func (s *Store) SaveCheckpoint(_ context.Context, cp *domain.SyncCheckpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[checkpointKey(cp.Pool, cp.ChainID)] = cp.Clone()
	return nil
}

// CommitRange upserts a batch and saves the checkpoint under one lock.
func (s *Store) CommitRange(_ context.Context, events []*domain.SwapEvent, cp *domain.SyncCheckpoint) (int, error) {
	if cp == nil {
		return 0, storage.ErrInvalidInput
	}
	for _, e := range events {
		if e == nil || e.ID == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, e := range events {
		if s.upsertLocked(e) {
			inserted++
		}
	}
	s.checkpoints[checkpointKey(cp.Pool, cp.ChainID)] = cp.Clone()
	return inserted, nil
}

// RollbackTo deletes events above the checkpoint and saves it under one lock.
func (s *Store) RollbackTo(_ context.Context, cp *domain.SyncCheckpoint) (int64, error) {
	if cp == nil {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := s.deleteFromLocked(cp.Pool, cp.LastSyncedBlock+1)
	s.checkpoints[checkpointKey(cp.Pool, cp.ChainID)] = cp.Clone()
	return deleted, nil
}
