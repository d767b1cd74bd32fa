// Package query exposes validated read access to stored swap events, for an
// external API facade to wrap.
package query

import (
	"context"
	"fmt"

	"evm-swap-indexer/internal/domain"
	"evm-swap-indexer/internal/storage"
)

// Service validates filters before handing them to the store.
type Service struct {
	events storage.SwapEventStore
}

// NewService creates a query service over the given event store.
func NewService(events storage.SwapEventStore) *Service {
	return &Service{events: events}
}

// Swaps returns events matching the filter, bounded and ordered. Range
// predicates with min > max return ErrInvalidInput rather than an empty
// scan, so callers learn about inverted filters.
func (s *Service) Swaps(ctx context.Context, f storage.Filter) ([]*domain.SwapEvent, error) {
	if err := validate(&f); err != nil {
		return nil, err
	}
	return s.events.Query(ctx, f)
}

// Swap returns a single event by id.
func (s *Service) Swap(ctx context.Context, id string) (*domain.SwapEvent, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", storage.ErrInvalidInput)
	}
	return s.events.GetByID(ctx, id)
}

func validate(f *storage.Filter) error {
	if err := f.Normalize(); err != nil {
		return fmt.Errorf("%w: unknown order column %q", err, f.OrderBy)
	}
	if f.MinAmount0 != nil && f.MaxAmount0 != nil && f.MinAmount0.Cmp(f.MaxAmount0) > 0 {
		return fmt.Errorf("%w: amount0 range inverted", storage.ErrInvalidInput)
	}
	if f.MinAmount1 != nil && f.MaxAmount1 != nil && f.MinAmount1.Cmp(f.MaxAmount1) > 0 {
		return fmt.Errorf("%w: amount1 range inverted", storage.ErrInvalidInput)
	}
	if f.FromBlock != nil && f.ToBlock != nil && *f.FromBlock > *f.ToBlock {
		return fmt.Errorf("%w: block range inverted", storage.ErrInvalidInput)
	}
	if f.FromTime != nil && f.ToTime != nil && *f.FromTime > *f.ToTime {
		return fmt.Errorf("%w: time range inverted", storage.ErrInvalidInput)
	}
	return nil
}
