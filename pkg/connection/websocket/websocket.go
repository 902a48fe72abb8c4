// Package websocket implements the webSockets transport on top of a
// pluggable socket Dialer. The gorillaws and gws packages provide dialers.
package websocket

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/wire"
)

// ErrSocketClosed is returned when sending while no socket is open.
var ErrSocketClosed = errors.New("websocket is not open")

// Handler receives socket events. OnClose gets a nil error for a clean close.
type Handler struct {
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Conn is an open socket.
type Conn interface {
	// ReadLoop reads until the socket closes, delivering events to the Handler.
	ReadLoop()
	WriteText(ctx context.Context, data []byte) error
	// Close sends a normal closure and releases the socket.
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string, h Handler) (Conn, error)
}

// Transport is the webSockets transport. One instance serves one connection.
type Transport struct {
	dialer Dialer

	mu          sync.Mutex
	conn        Conn
	generation  uint64
	reconnector clockwork.Timer
}

var _ connection.Transport = (*Transport)(nil)

func New(d Dialer) *Transport {
	return &Transport{dialer: d}
}

// Factory returns a connection.Factory creating transports that share d.
func Factory(d Dialer) connection.Factory {
	return func() connection.Transport { return New(d) }
}

func (t *Transport) Name() string {
	return constants.TransportWebSockets
}

func (t *Transport) SupportsKeepAlive() bool {
	return true
}

func (t *Transport) Start(ctx context.Context, c *connection.Connection, onSuccess func(), onFailed func(error)) {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return
	}
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	reconnecting := onSuccess == nil
	url := c.SocketURL(reconnecting)
	c.Logger().Info("Connecting to websocket endpoint", "url", url)

	conn, err := t.dialer.Dial(ctx, url, Handler{
		OnMessage: func(data []byte) { t.onMessage(c, gen, data) },
		OnClose:   func(err error) { t.onClose(c, gen, err) },
	})
	if err != nil {
		c.Logger().Info("Websocket failed to open", "error", err)
		if onFailed != nil {
			onFailed(err)
		} else if reconnecting {
			t.reconnect(c)
		}
		return
	}

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		_ = conn.Close()
		if onFailed != nil {
			onFailed(constants.ErrConnectionStopped)
		}
		return
	}
	t.conn = conn
	t.mu.Unlock()

	c.Logger().Info("Websocket opened")
	if onSuccess != nil {
		onSuccess()
	} else if c.MarkReconnected() {
		c.Logger().Info("Websocket reconnected")
	}

	go conn.ReadLoop()
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.generation
}

func (t *Transport) onMessage(c *connection.Connection, gen uint64, data []byte) {
	if !t.current(gen) {
		return
	}
	if !json.Valid(data) {
		c.EmitError(errors.New("websocket received a frame that is not valid JSON"))
		return
	}
	if wire.IsPersistentResponse(data) {
		c.ProcessMessages(data)
		return
	}
	c.RaiseReceived(json.RawMessage(data))
}

func (t *Transport) onClose(c *connection.Connection, gen uint64, err error) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.mu.Unlock()

	if err != nil {
		c.Logger().Error("Unclean disconnect from websocket", "error", err)
		c.EmitError(err)
	} else {
		c.Logger().Info("Websocket closed")
	}
	t.reconnect(c)
}

// reconnect schedules a single restart after the reconnect delay.
func (t *Transport) reconnect(c *connection.Connection) {
	if c.IsDisconnecting() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reconnector != nil {
		return
	}
	t.reconnector = c.Clock().AfterFunc(c.ReconnectDelay(), func() {
		t.mu.Lock()
		t.reconnector = nil
		t.mu.Unlock()

		t.closeSocket()
		if c.EnsureReconnecting() {
			c.Logger().Info("Websocket reconnecting")
			t.Start(c.Context(), c, nil, nil)
		}
	})
}

// closeSocket closes the current socket and ignores its pending events.
func (t *Transport) closeSocket() {
	t.mu.Lock()
	t.generation++
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (t *Transport) Send(ctx context.Context, c *connection.Connection, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrSocketClosed
	}
	return conn.WriteText(ctx, data)
}

func (t *Transport) Stop(c *connection.Connection) {
	t.mu.Lock()
	if t.reconnector != nil {
		t.reconnector.Stop()
		t.reconnector = nil
	}
	t.mu.Unlock()

	t.closeSocket()
}

// Abort is a no-op: closing the socket tells the server.
func (t *Transport) Abort(c *connection.Connection, async bool) {}

func (t *Transport) LostConnection(c *connection.Connection) error {
	t.reconnect(c)
	return nil
}
