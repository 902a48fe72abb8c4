// Package gws dials webSockets transport sockets with lxzan/gws.
package gws

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lxzan/gws"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/connection/websocket"
	"github.com/surrealdb/signalr.go/pkg/constants"
)

// Dialer implements websocket.Dialer with gws.
type Dialer struct {
	// Header is added to the handshake request.
	Header http.Header
	// Compression enables permessage-deflate.
	Compression bool
}

var _ websocket.Dialer = (*Dialer)(nil)

// New returns a webSockets transport backed by gws.
func New(d *Dialer) connection.Transport {
	return websocket.New(d)
}

// Factory returns a factory for registering the transport.
func Factory(d *Dialer) connection.Factory {
	return websocket.Factory(d)
}

func (d *Dialer) Dial(ctx context.Context, url string, h websocket.Handler) (websocket.Conn, error) {
	handler := &websocketHandler{handler: h}
	option := &gws.ClientOption{
		Addr:          url,
		RequestHeader: d.Header,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: d.Compression,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		option.HandshakeTimeout = time.Until(deadline)
	}

	type result struct {
		conn *gws.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, _, err := gws.NewClient(handler, option)
		done <- result{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return &GwsConnection{conn: res.conn, handler: handler}, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				_ = res.conn.NetConn().Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// GwsConnection is an open gws socket.
type GwsConnection struct {
	conn    *gws.Conn
	handler *websocketHandler
}

var _ websocket.Conn = (*GwsConnection)(nil)

func (c *GwsConnection) ReadLoop() {
	c.conn.ReadLoop()
}

// WriteText writes a text frame. gws serializes concurrent writers itself.
func (c *GwsConnection) WriteText(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.WriteMessage(gws.OpcodeText, data)
}

func (c *GwsConnection) Close() error {
	if c.handler.closed.Swap(true) {
		return nil
	}
	_ = c.conn.WriteClose(constants.CloseMessageCode, nil)
	return c.conn.NetConn().Close()
}

type websocketHandler struct {
	handler websocket.Handler
	closed  atomic.Bool
}

func (h *websocketHandler) OnOpen(socket *gws.Conn) {
	// Connection opened successfully
}

func (h *websocketHandler) OnClose(socket *gws.Conn, err error) {
	if h.closed.Load() {
		h.handler.OnClose(nil)
		return
	}
	var closeErr *gws.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == constants.CloseMessageCode {
		h.handler.OnClose(nil)
		return
	}
	h.handler.OnClose(err)
}

func (h *websocketHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	h.handler.OnMessage(append([]byte(nil), message.Bytes()...))
}

func (h *websocketHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *websocketHandler) OnPong(socket *gws.Conn, payload []byte) {
}
