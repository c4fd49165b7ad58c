// Package wsbridge carries bridge frames over a WebSocket. It is used by the
// browser development server, where the UI is not running inside the
// desktop webview.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chazu/lispcad/pkg/bridge"
)

// writeWait bounds a single frame write when ctx has no deadline.
const writeWait = 10 * time.Second

// DefaultReadLimit caps an inbound message when no option overrides it.
// A larger message closes the connection.
const DefaultReadLimit = 64 << 20

// Upgrader accepts bridge connections. Origin checks are left to the
// caller's CheckOrigin; the default only admits same-origin requests.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
}

// Conn is a bridge.Transport backed by a WebSocket connection. Every frame
// travels as one text message.
type Conn struct {
	ws *websocket.Conn

	wmu sync.Mutex
}

var _ bridge.Transport = (*Conn)(nil)

// Option configures a Conn.
type Option func(*Conn)

// WithReadLimit sets the largest inbound message accepted, in bytes.
// Values below 1 keep the default.
func WithReadLimit(n int64) Option {
	return func(c *Conn) {
		if n > 0 {
			c.ws.SetReadLimit(n)
		}
	}
}

// New wraps an established connection.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	ws.SetReadLimit(DefaultReadLimit)
	c := &Conn{ws: ws}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Accept upgrades an HTTP request to a bridge connection.
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: upgrade: %w", err)
	}
	return New(ws, opts...), nil
}

// Dial connects to a bridge endpoint such as ws://127.0.0.1:7777/bridge.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial %s: %w", url, err)
	}
	return New(ws, opts...), nil
}

// Send writes frame as a single text message.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("wsbridge: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("wsbridge: write: %w", err)
	}
	return nil
}

// ReadLoop delivers inbound messages to r, in order, until the connection
// closes or ctx is cancelled. A normal close returns nil.
func (c *Conn) ReadLoop(ctx context.Context, r bridge.Receiver) error {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("wsbridge: read: %w", err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if err := r.Deliver(ctx, data); err != nil {
			if errors.Is(err, bridge.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Close sends a close message and closes the underlying connection.
func (c *Conn) Close() error {
	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}
