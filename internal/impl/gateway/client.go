package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	errors "github.com/covehq/cove/internal/domain/errs"
	"github.com/covehq/cove/internal/domain/events"
	"github.com/covehq/cove/internal/domain/interfaces"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 8 * time.Second
	reconnectMin     = time.Second
	reconnectMax     = 30 * time.Second
)

// frame is the wire envelope shared by requests, responses, and events.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client is a WebSocket RPC client for the gateway. Calls are correlated
// with responses by frame id; events are fanned out to named-stream
// handlers on the read goroutine. A dropped connection fails all pending
// calls and triggers reconnection with capped backoff.
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	pending   map[string]chan frame
	handlers  map[string]map[int]func(json.RawMessage)
	connHooks map[int]func()
	seq       int
	connected bool
	closed    bool
}

func NewClient(gatewayURL, token string, logger *zap.Logger) *Client {
	return &Client{
		url:       gatewayURL,
		token:     token,
		logger:    logger,
		pending:   make(map[string]chan frame),
		handlers:  make(map[string]map[int]func(json.RawMessage)),
		connHooks: make(map[int]func()),
	}
}

// Connect dials the gateway and starts the read loop. On failure the
// background reconnect loop keeps trying, so callers may proceed offline.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		go c.reconnectLoop()
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dialURL := c.url
	if c.token != "" {
		dialURL += "?token=" + url.QueryEscape(c.token)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		if resp != nil {
			return errors.TransportErrorf("gateway dial failed: %v (status %s)", err, resp.Status)
		}
		return errors.TransportErrorf("gateway dial failed: %v", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return errors.TransportErrorf("gateway client is closed")
	}
	c.conn = conn
	c.connected = true
	hooks := make([]func(), 0, len(c.connHooks))
	for _, hook := range c.connHooks {
		hooks = append(hooks, hook)
	}
	c.mu.Unlock()

	c.logger.Info("Connected to gateway", zap.String("url", c.url))
	events.PublishConnectionEvent(true)
	for _, hook := range hooks {
		hook()
	}

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onDisconnect(conn, err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("Ignoring undecodable gateway frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case "res":
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			if ok {
				delete(c.pending, f.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case "event":
			c.mu.Lock()
			registered := c.handlers[f.Event]
			handlers := make([]func(json.RawMessage), 0, len(registered))
			for _, h := range registered {
				handlers = append(handlers, h)
			}
			c.mu.Unlock()
			for _, h := range handlers {
				h(f.Payload)
			}
		default:
			c.logger.Debug("Ignoring gateway frame of unknown type", zap.String("type", f.Type))
		}
	}
}

func (c *Client) onDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	pending := c.pending
	c.pending = make(map[string]chan frame)
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	for _, ch := range pending {
		ch <- frame{Type: "res", Error: "connection lost"}
	}

	if closed {
		return
	}
	c.logger.Warn("Gateway connection lost", zap.Error(cause))
	events.PublishConnectionEvent(false)
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	backoff := reconnectMin
	for {
		time.Sleep(backoff)

		c.mu.Lock()
		stop := c.closed || c.connected
		c.mu.Unlock()
		if stop {
			return
		}

		if err := c.dial(context.Background()); err == nil {
			return
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// Call performs one RPC round-trip. An error frame or a dropped connection
// yields a TransportError; result is decoded only when both sides are
// non-empty.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return errors.InternalErrorf("failed to encode params for %s: %v", method, err)
		}
		rawParams = data
	}

	id := uuid.New().String()
	ch := make(chan frame, 1)

	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return errors.TransportErrorf("not connected to gateway")
	}
	conn := c.conn
	c.pending[id] = ch
	c.mu.Unlock()

	req := frame{Type: "req", ID: id, Method: method, Params: rawParams}
	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return errors.TransportErrorf("failed to send %s: %v", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return errors.CanceledErrorf("%s canceled: %v", method, ctx.Err())
	case res := <-ch:
		if res.Error != "" {
			return errors.TransportErrorf("%s failed: %s", method, res.Error)
		}
		if result != nil && len(res.Result) > 0 {
			if err := json.Unmarshal(res.Result, result); err != nil {
				return errors.InternalErrorf("failed to decode %s result: %v", method, err)
			}
		}
		return nil
	}
}

// On registers an event handler and returns its unsubscribe function.
func (c *Client) On(event string, handler func(payload json.RawMessage)) func() {
	c.mu.Lock()
	c.seq++
	id := c.seq
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]func(json.RawMessage))
	}
	c.handlers[event][id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	}
}

// OnConnect registers a hook invoked after every successful (re)connect.
func (c *Client) OnConnect(handler func()) func() {
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.connHooks[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.connHooks, id)
		c.mu.Unlock()
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

var _ interfaces.Gateway = (*Client)(nil)
