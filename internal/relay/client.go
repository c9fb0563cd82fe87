package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/txwatch/internal/logging"
)

// ClientConfig configures the page-side websocket link.
type ClientConfig struct {
	URL        string // e.g. "ws://127.0.0.1:9745/relay"
	ContextID  string
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// Client is a websocket Link to a hub. It reconnects with backoff while Run
// is active; Send fails immediately while disconnected.
type Client struct {
	cfg ClientConfig
	log *slog.Logger

	mu   sync.RWMutex
	conn *websocket.Conn
	fn   func([]byte)

	writeMu sync.Mutex
}

// NewClient creates a disconnected client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Client{cfg: cfg, log: logging.OrDiscard(cfg.Logger)}
}

// Connected reports whether a handshake-complete connection is live.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// OnMessage registers the inbound handler.
func (c *Client) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

// Send writes env to the hub.
func (c *Client) Send(ctx context.Context, env Envelope) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := Encode(env)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Connect dials the hub once and completes the handshake. The read loop runs
// in the background until the connection drops.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	go c.readLoop(conn)
	return nil
}

// Run keeps the link connected until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			c.log.Info("relay connected", "url", c.cfg.URL, "context", c.cfg.ContextID)
			backoff = c.cfg.MinBackoff
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			c.readLoop(conn)
			stop()
			c.log.Warn("relay disconnected", "url", c.cfg.URL)
		} else if ctx.Err() == nil {
			c.log.Debug("relay dial failed", "url", c.cfg.URL, "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

// Close drops the current connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.cfg.ContextID == "" {
		return nil, errors.New("relay client requires a context id")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	hello, err := Encode(Envelope{Type: TypeHello, ContextID: c.cfg.ContextID, Token: c.cfg.Token, Version: ProtocolVersion})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write hello: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if env, ok := Decode(data); !ok || env.Type != TypeWelcome {
		conn.Close()
		return nil, errors.New("unexpected handshake reply")
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.mu.RLock()
		fn := c.fn
		c.mu.RUnlock()
		if fn != nil {
			fn(data)
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}
