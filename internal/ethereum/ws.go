package ethereum

import "context"

// HeadClient defines the EVM WebSocket new-head subscription interface.
type HeadClient interface {
	// SubscribeNewHeads subscribes to canonical chain head announcements.
	SubscribeNewHeads(ctx context.Context) (<-chan BlockHeader, error)

	// Close closes the WebSocket connection.
	Close() error
}
