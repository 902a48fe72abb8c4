// Package gorillaws dials webSockets transport sockets with gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/connection/websocket"
	"github.com/surrealdb/signalr.go/pkg/constants"

	gorilla "github.com/gorilla/websocket"
)

// DefaultDialer is the default gorilla dialer used by the webSockets transport
//
// It uses the default gorilla dialer as of gorilla/websocket v1.5.0 with the following modifications:
// - EnableCompression is set to true
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Option func(d *Dialer)

// WithDialer replaces the gorilla dialer.
func WithDialer(dialer *gorilla.Dialer) Option {
	return func(d *Dialer) {
		d.dialer = dialer
	}
}

// WithHeader adds headers to the handshake request.
func WithHeader(h http.Header) Option {
	return func(d *Dialer) {
		d.header = h
	}
}

// Dialer implements websocket.Dialer with gorilla/websocket.
type Dialer struct {
	dialer *gorilla.Dialer
	header http.Header
}

var _ websocket.Dialer = (*Dialer)(nil)

func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{dialer: DefaultDialer}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New returns a webSockets transport backed by gorilla/websocket.
func New(opts ...Option) connection.Transport {
	return websocket.New(NewDialer(opts...))
}

// Factory returns a factory for registering the transport.
func Factory(opts ...Option) connection.Factory {
	return websocket.Factory(NewDialer(opts...))
}

func (d *Dialer) Dial(ctx context.Context, url string, h websocket.Handler) (websocket.Conn, error) {
	conn, res, err := d.dialer.DialContext(ctx, url, d.header)
	if res != nil && res.Body != nil {
		defer res.Body.Close()
	}
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", res.StatusCode, err)
		}
		return nil, err
	}
	return &Connection{Conn: conn, handler: h}, nil
}

// Connection is an open gorilla socket.
type Connection struct {
	Conn *gorilla.Conn

	// connLock serializes writes, gorilla allows one concurrent writer.
	connLock sync.Mutex
	handler  websocket.Handler
	closed   atomic.Bool
}

var _ websocket.Conn = (*Connection)(nil)

func (c *Connection) ReadLoop() {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.handler.OnClose(c.closeError(err))
			return
		}
		c.handler.OnMessage(data)
	}
}

// closeError maps a read error to the error reported to the handler,
// nil for a normal closure.
func (c *Connection) closeError(err error) error {
	if c.closed.Load() || gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Connection) WriteText(ctx context.Context, data []byte) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.Conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.Conn.WriteMessage(gorilla.TextMessage, data)
}

// Close writes a close message bounded by the abort timeout and then closes
// the underlying connection regardless of the write result.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.connLock.Lock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(constants.AbortTimeout))
	_ = c.Conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	c.connLock.Unlock()

	return c.Conn.Close()
}
