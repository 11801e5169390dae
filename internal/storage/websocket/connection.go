package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

var errClosed = errors.New("websocket connection closed")

// connection is a websocket client that redials once when a write fails.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	closed bool

	wsURL  string
	secret string
	dialer *ws.Dialer

	logger *slog.Logger
}

func newConnection(rawURL, secret string, logger *slog.Logger) *connection {
	return &connection{
		wsURL:  rawURL,
		secret: secret,
		dialer: &ws.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: logger,
	}
}

// dial connects and starts the read loop. The caller holds c.mu.
func (c *connection) dial(ctx context.Context) error {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

// readLoop consumes server frames so control messages are processed, and
// drops the connection once the server goes away.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			c.logger.Debug("WebSocket message received", "raw", string(msg))
			continue
		}

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			if !c.closed {
				c.logger.Warn("WebSocket read error", "error", err)
			}
		}
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
}

// write sends data, dialing first if there is no connection. A failed
// write is retried once on a fresh connection.
func (c *connection) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed
	}

	if c.conn == nil {
		if err := c.dial(ctx); err != nil {
			return err
		}
	}

	err := c.writeLocked(data)
	if err == nil {
		return nil
	}

	c.logger.Warn("WebSocket write error, redialing", "error", err)
	_ = c.conn.Close()
	c.conn = nil
	if err := c.dial(ctx); err != nil {
		return err
	}
	return c.writeLocked(data)
}

func (c *connection) writeLocked(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(ws.TextMessage, data)
}

// connected reports whether a connection is currently open.
func (c *connection) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// close sends a close frame and shuts the connection down.
func (c *connection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}
