package stub

import (
	"context"
	"errors"
	"sync"

	"evm-swap-indexer/internal/ethereum"
)

// ErrUnavailable simulates a transient RPC failure.
var ErrUnavailable = errors.New("rpc unavailable")

// RPCClient implements ethereum.Client for testing. The scripted chain can
// be rewritten mid-test to simulate a reorg.
type RPCClient struct {
	mu       sync.Mutex
	headers  map[uint64]*ethereum.BlockHeader
	logs     map[uint64][]ethereum.Log // keyed by block number
	head     uint64
	failLogs int // number of GetLogs calls to fail before succeeding

	// GetLogsCalls counts eth_getLogs invocations, including failed ones.
	GetLogsCalls int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		headers: make(map[uint64]*ethereum.BlockHeader),
		logs:    make(map[uint64][]ethereum.Log),
	}
}

// Compile-time interface check.
var _ ethereum.Client = (*RPCClient)(nil)

// SetHeader installs a header into the scripted chain.
func (c *RPCClient) SetHeader(h ethereum.BlockHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := h
	c.headers[h.Number] = &cp
	if h.Number > c.head {
		c.head = h.Number
	}
}

// SetLogs installs the logs for a block.
func (c *RPCClient) SetLogs(blockNumber uint64, logs []ethereum.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[blockNumber] = logs
}

// SetHead sets the reported chain head height.
func (c *RPCClient) SetHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
}

// FailNextGetLogs makes the next n GetLogs calls return ErrUnavailable.
func (c *RPCClient) FailNextGetLogs(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLogs = n
}

// GetLogs returns scripted logs within the range, filtered by address and topic0.
func (c *RPCClient) GetLogs(_ context.Context, q ethereum.FilterQuery) ([]ethereum.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.GetLogsCalls++
	if c.failLogs > 0 {
		c.failLogs--
		return nil, ErrUnavailable
	}

	var out []ethereum.Log
	for n := q.FromBlock; n <= q.ToBlock; n++ {
		for _, l := range c.logs[n] {
			if l.Address != q.Address {
				continue
			}
			if len(q.Topics) > 0 && (len(l.Topics) == 0 || l.Topics[0] != q.Topics[0]) {
				continue
			}
			out = append(out, l)
		}
	}
	return out, nil
}

// GetBlockByNumber returns a scripted header, or nil if absent.
func (c *RPCClient) GetBlockByNumber(_ context.Context, number uint64) (*ethereum.BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.headers[number]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

// BlockNumber returns the scripted head height.
func (c *RPCClient) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}
