package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSClientImpl implements HeadClient using gorilla/websocket.
// A dropped connection is re-established with exponential backoff and the
// newHeads subscription is re-issued, so consumers see one long-lived
// channel across reconnects.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subID of the active newHeads subscription, as hex string.
	subMu sync.Mutex
	subID string
	subCh chan BlockHeader

	// pending maps request ID to channel waiting for a subscription ID.
	pendingMu sync.Mutex
	pending   map[uint64]chan string

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		pending:  make(map[uint64]chan string),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Compile-time interface check.
var _ HeadClient = (*WSClientImpl)(nil)

// connect establishes the WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// wsRequest is a JSON-RPC 2.0 request over the socket.
type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// wsMessage covers both call responses and subscription notifications.
type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	Method  string          `json:"method"`
	Params  *wsSubParams    `json:"params"`
}

type wsSubParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// SubscribeNewHeads subscribes to canonical chain head announcements.
// Only one subscription per client is supported.
func (c *WSClientImpl) SubscribeNewHeads(ctx context.Context) (<-chan BlockHeader, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	c.subMu.Lock()
	if c.subCh != nil {
		c.subMu.Unlock()
		return nil, fmt.Errorf("already subscribed")
	}
	// Buffer absorbs bursts during consumer stalls; heads are small.
	ch := make(chan BlockHeader, 256)
	c.subCh = ch
	c.subMu.Unlock()

	subID, err := c.subscribeInternal(ctx)
	if err != nil {
		c.subMu.Lock()
		c.subCh = nil
		c.subMu.Unlock()
		return nil, err
	}

	c.subMu.Lock()
	c.subID = subID
	c.subMu.Unlock()

	return ch, nil
}

// subscribeInternal issues eth_subscribe and waits for the subscription ID.
func (c *WSClientImpl) subscribeInternal(ctx context.Context) (string, error) {
	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	}

	confirmCh := make(chan string, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = confirmCh
	c.pendingMu.Unlock()

	removePending := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		removePending()
		return "", fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		removePending()
		return "", fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID := <-confirmCh:
		if subID == "" {
			return "", fmt.Errorf("subscribe rejected")
		}
		return subID, nil
	case <-time.After(30 * time.Second):
		removePending()
		return "", fmt.Errorf("subscription timeout after 30s")
	case <-c.done:
		return "", fmt.Errorf("client closed")
	case <-ctx.Done():
		removePending()
		return "", ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// The read loop may be parked delivering a head; the channels close
	// only after both loops have exited.
	c.wg.Wait()

	c.subMu.Lock()
	if c.subCh != nil {
		close(c.subCh)
		c.subCh = nil
	}
	c.subMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	return nil
}

// readLoop reads messages and dispatches notifications and call replies.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// handleMessage routes one socket frame.
func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	// Subscription notification
	if msg.Method == "eth_subscription" && msg.Params != nil {
		var raw rpcHeader
		if err := json.Unmarshal(msg.Params.Result, &raw); err != nil {
			return
		}
		head, err := convertWSHeader(raw)
		if err != nil {
			return
		}

		c.subMu.Lock()
		ch := c.subCh
		c.subMu.Unlock()
		if ch == nil {
			return
		}

		select {
		case ch <- head:
		case <-c.done:
		}
		return
	}

	// Call reply: subscription confirmation
	if msg.ID != 0 {
		c.pendingMu.Lock()
		confirmCh, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			return
		}

		if msg.Error != nil {
			confirmCh <- ""
			return
		}
		var subID string
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			confirmCh <- ""
			return
		}
		confirmCh <- subID
	}
}

// convertWSHeader maps a newHeads payload into a BlockHeader.
func convertWSHeader(raw rpcHeader) (BlockHeader, error) {
	var h BlockHeader

	num, err := decodeUint64(raw.Number)
	if err != nil {
		return h, fmt.Errorf("head number: %w", err)
	}
	hash, err := ParseHash(raw.Hash)
	if err != nil {
		return h, fmt.Errorf("head hash: %w", err)
	}
	parent, err := ParseHash(raw.ParentHash)
	if err != nil {
		return h, fmt.Errorf("head parent hash: %w", err)
	}
	ts, err := decodeUint64(raw.Timestamp)
	if err != nil {
		return h, fmt.Errorf("head timestamp: %w", err)
	}

	h = BlockHeader{Number: num, Hash: hash, ParentHash: parent, Timestamp: ts}
	return h, nil
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Will retry on the next read error.
		return
	}

	// Re-issue the newHeads subscription if one was active.
	c.subMu.Lock()
	active := c.subCh != nil
	c.subMu.Unlock()
	if !active {
		return
	}

	subCtx, subCancel := context.WithTimeout(context.Background(), 10*time.Second)
	subID, err := c.subscribeInternal(subCtx)
	subCancel()
	if err != nil {
		return
	}

	c.subMu.Lock()
	c.subID = subID
	c.subMu.Unlock()
}
