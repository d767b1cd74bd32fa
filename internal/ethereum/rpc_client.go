package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 1 * time.Second
	DefaultMaxDelay      = 10 * time.Second
	DefaultBackoffMult   = 2.0
	DefaultMaxBlockRange = 2000
)

// HTTPClient implements Client using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint      string
	client        *http.Client
	maxRetries    int
	retryDelay    time.Duration
	maxDelay      time.Duration
	backoffMult   float64
	maxBlockRange uint64
	requestID     atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts per call.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithMaxBlockRange caps the block span of a single eth_getLogs call.
// Wider requests are paged internally.
func WithMaxBlockRange(n uint64) ClientOption {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxBlockRange = n
		}
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new EVM JSON-RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:      endpoint,
		client:        &http.Client{Timeout: DefaultTimeout},
		maxRetries:    DefaultMaxRetries,
		retryDelay:    DefaultRetryDelay,
		maxDelay:      DefaultMaxDelay,
		backoffMult:   DefaultBackoffMult,
		maxBlockRange: DefaultMaxBlockRange,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// rangeErrorFragments are message substrings providers use when an
// eth_getLogs span exceeds their block or result limits. Codes vary by
// provider (-32005 Infura, -32602/-32000 others), so the message decides.
var rangeErrorFragments = []string{
	"range is too large",
	"block range",
	"too many results",
	"query returned more than",
	"response size exceeded",
	"limit exceeded",
}

// isRangeError reports whether err indicates the requested log range must
// be narrowed and retried in halves.
func isRangeError(err error) bool {
	rpcErr, ok := err.(*RPCError)
	if !ok {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	for _, frag := range rangeErrorFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Transport failures, 429s and 5xx responses are retried; JSON-RPC
// protocol errors are returned to the caller immediately.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// Protocol errors carry semantics (e.g. range too large)
			// and must not be blindly retried here.
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// rpcLog is the wire representation of an eth_getLogs entry.
type rpcLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	BlockHash        string   `json:"blockHash"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// GetLogs retrieves all logs matching the filter within [FromBlock, ToBlock].
// Spans wider than the configured maximum are paged sequentially; on a
// provider range error each page is bisected and both halves retried, down
// to single blocks. Results are ordered by (blockNumber, logIndex).
func (c *HTTPClient) GetLogs(ctx context.Context, q FilterQuery) ([]Log, error) {
	if q.FromBlock > q.ToBlock {
		return nil, fmt.Errorf("invalid range [%d, %d]", q.FromBlock, q.ToBlock)
	}

	var logs []Log
	from := q.FromBlock
	for from <= q.ToBlock {
		to := q.ToBlock
		if c.maxBlockRange > 0 && to-from+1 > c.maxBlockRange {
			to = from + c.maxBlockRange - 1
		}

		page, err := c.getLogsRange(ctx, q, from, to)
		if err != nil {
			return nil, err
		}
		logs = append(logs, page...)

		if to == ^uint64(0) {
			break
		}
		from = to + 1
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].LogIndex < logs[j].LogIndex
	})

	return logs, nil
}

// getLogsRange fetches one span, bisecting on provider range errors.
func (c *HTTPClient) getLogsRange(ctx context.Context, q FilterQuery, from, to uint64) ([]Log, error) {
	filter := map[string]interface{}{
		"address":   q.Address.Hex(),
		"fromBlock": encodeUint64(from),
		"toBlock":   encodeUint64(to),
	}
	if len(q.Topics) > 0 {
		topics := make([]interface{}, len(q.Topics))
		for i, t := range q.Topics {
			topics[i] = t.Hex()
		}
		filter["topics"] = topics
	}

	var raw []rpcLog
	err := c.call(ctx, "eth_getLogs", []interface{}{filter}, &raw)
	if err == nil {
		return convertLogs(raw)
	}

	if isRangeError(err) && from < to {
		mid := from + (to-from)/2
		left, lerr := c.getLogsRange(ctx, q, from, mid)
		if lerr != nil {
			return nil, lerr
		}
		right, rerr := c.getLogsRange(ctx, q, mid+1, to)
		if rerr != nil {
			return nil, rerr
		}
		return append(left, right...), nil
	}

	return nil, fmt.Errorf("eth_getLogs [%d, %d]: %w", from, to, err)
}

// convertLogs maps wire logs into typed Logs.
func convertLogs(raw []rpcLog) ([]Log, error) {
	logs := make([]Log, 0, len(raw))
	for _, r := range raw {
		l, err := convertLog(r)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func convertLog(r rpcLog) (Log, error) {
	var l Log

	addr, err := ParseAddress(r.Address)
	if err != nil {
		return l, fmt.Errorf("log address: %w", err)
	}

	topics := make([]Hash, len(r.Topics))
	for i, t := range r.Topics {
		h, err := ParseHash(t)
		if err != nil {
			return l, fmt.Errorf("log topic %d: %w", i, err)
		}
		topics[i] = h
	}

	data, err := decodeData(r.Data)
	if err != nil {
		return l, fmt.Errorf("log data: %w", err)
	}

	blockNumber, err := decodeUint64(r.BlockNumber)
	if err != nil {
		return l, fmt.Errorf("log block number: %w", err)
	}

	blockHash, err := ParseHash(r.BlockHash)
	if err != nil {
		return l, fmt.Errorf("log block hash: %w", err)
	}

	txHash, err := ParseHash(r.TransactionHash)
	if err != nil {
		return l, fmt.Errorf("log tx hash: %w", err)
	}

	txIndex, err := decodeUint64(r.TransactionIndex)
	if err != nil {
		return l, fmt.Errorf("log tx index: %w", err)
	}

	logIndex, err := decodeUint64(r.LogIndex)
	if err != nil {
		return l, fmt.Errorf("log index: %w", err)
	}

	l = Log{
		Address:     addr,
		Topics:      topics,
		Data:        data,
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		TxHash:      txHash,
		TxIndex:     uint32(txIndex),
		LogIndex:    uint32(logIndex),
		Removed:     r.Removed,
	}
	return l, nil
}

// rpcHeader is the wire representation of a block header.
type rpcHeader struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

// GetBlockByNumber retrieves a block header by height.
// Returns nil if the block does not exist.
func (c *HTTPClient) GetBlockByNumber(ctx context.Context, number uint64) (*BlockHeader, error) {
	params := []interface{}{encodeUint64(number), false}

	var raw *rpcHeader
	if err := c.call(ctx, "eth_getBlockByNumber", params, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	num, err := decodeUint64(raw.Number)
	if err != nil {
		return nil, fmt.Errorf("header number: %w", err)
	}
	hash, err := ParseHash(raw.Hash)
	if err != nil {
		return nil, fmt.Errorf("header hash: %w", err)
	}
	parent, err := ParseHash(raw.ParentHash)
	if err != nil {
		return nil, fmt.Errorf("header parent hash: %w", err)
	}
	ts, err := decodeUint64(raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("header timestamp: %w", err)
	}

	return &BlockHeader{
		Number:     num,
		Hash:       hash,
		ParentHash: parent,
		Timestamp:  ts,
	}, nil
}

// BlockNumber returns the current chain head height.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return decodeUint64(result)
}
