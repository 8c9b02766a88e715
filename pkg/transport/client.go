package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/forgehq/forge/pkg/log"
	"github.com/forgehq/forge/pkg/metrics"
	"github.com/forgehq/forge/pkg/types"
)

// Client maintains (and lazily reconnects) a single WebSocket
// connection to one peer, correlating concurrent in-flight RPCs by
// their requestId field.
type Client struct {
	addr    string
	timeout time.Duration

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	logger zerolog.Logger
}

// NewClient returns a Client that dials addr (a ws:// URL) on the
// first call and reuses the connection until it fails.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{
		addr:    addr,
		timeout: timeout,
		pending: make(map[string]chan json.RawMessage),
		logger:  log.WithComponent("transport").With().Str("peer", addr).Logger(),
	}
}

// Close drops the underlying connection, if any.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SendRequestVote sends a RequestVote RPC and waits for its response.
func (c *Client) SendRequestVote(ctx context.Context, req *types.RequestVoteRequest) (*types.RequestVoteResponse, error) {
	raw, err := c.call(ctx, kindRequestVoteRequest, req.RequestID, req)
	if err != nil {
		return nil, err
	}
	return decodeRequestVoteResponse(raw)
}

// SendAppendEntries sends an AppendEntries RPC and waits for its response.
func (c *Client) SendAppendEntries(ctx context.Context, req *types.AppendEntriesRequest) (*types.AppendEntriesResponse, error) {
	raw, err := c.call(ctx, kindAppendEntriesRequest, req.RequestID, req)
	if err != nil {
		return nil, err
	}
	return decodeAppendEntriesResponse(raw)
}

func (c *Client) call(ctx context.Context, kind messageKind, requestID string, payload interface{}) (json.RawMessage, error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		metrics.TransportRPCFailuresTotal.WithLabelValues(string(kind), "dial").Inc()
		return nil, fmt.Errorf("transport: dial %s: %w", c.addr, err)
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	data, err := encodeEnvelope(kind, payload)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()

	c.connMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.connMu.Unlock()
	if err != nil {
		metrics.TransportRPCFailuresTotal.WithLabelValues(string(kind), "write").Inc()
		c.dropConn(conn)
		return nil, fmt.Errorf("transport: write to %s: %w", c.addr, err)
	}

	select {
	case raw := <-ch:
		timer.ObserveDurationVec(metrics.TransportRPCDuration, string(kind))
		return raw, nil
	case <-ctx.Done():
		metrics.TransportRPCFailuresTotal.WithLabelValues(string(kind), "context").Inc()
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		metrics.TransportRPCFailuresTotal.WithLabelValues(string(kind), "timeout").Inc()
		return nil, fmt.Errorf("transport: rpc %s to %s timed out after %s", kind, c.addr, c.timeout)
	}
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.addr, nil)
	if err != nil {
		return nil, err
	}

	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn().Err(err).Msg("connection closed, will reconnect on next call")
			c.dropConn(conn)
			return
		}

		kind, payload, err := decodeEnvelope(data)
		if err != nil {
			continue
		}

		var requestID string
		switch kind {
		case kindRequestVoteResponse:
			if v, err := decodeRequestVoteResponse(payload); err == nil {
				requestID = v.RequestID
			}
		case kindAppendEntriesResponse:
			if v, err := decodeAppendEntriesResponse(payload); err == nil {
				requestID = v.RequestID
			}
		default:
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[requestID]
		c.pendingMu.Unlock()
		if ok {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}
