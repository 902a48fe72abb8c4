// Package sse implements the serverSentEvents transport.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/constants"
)

// ErrConnectTimeout is reported when the stream does not open in time.
var ErrConnectTimeout = errors.New("event stream timed out trying to connect")

const initializedData = "initialized"

// Transport is the serverSentEvents transport. One instance serves one connection.
type Transport struct {
	mu          sync.Mutex
	stream      *stream
	reconnector clockwork.Timer
}

var _ connection.Transport = (*Transport)(nil)

// stream is one open or opening event stream.
type stream struct {
	cancel context.CancelFunc
	opened bool
	closed bool
	timer  clockwork.Timer
}

func New() *Transport {
	return &Transport{}
}

func Factory() connection.Factory {
	return func() connection.Transport { return New() }
}

func (t *Transport) Name() string {
	return constants.TransportServerSentEvents
}

func (t *Transport) SupportsKeepAlive() bool {
	return true
}

func (t *Transport) Start(ctx context.Context, c *connection.Connection, onSuccess func(), onFailed func(error)) {
	t.mu.Lock()
	old := t.stream
	t.stream = nil
	t.mu.Unlock()
	if old != nil {
		c.Logger().Info("The connection already has an event source, stopping it")
		old.close()
	}

	reconnecting := onSuccess == nil
	url := c.TransportURL(constants.TransportServerSentEvents, reconnecting, true)

	streamCtx, cancel := context.WithCancel(c.Context())
	s := &stream{cancel: cancel}

	t.mu.Lock()
	t.stream = s
	t.mu.Unlock()

	c.Logger().Info("Attempting to connect to SSE endpoint", "url", url)

	timeout := c.TransportConnectTimeout(constants.SSEConnectTimeout)
	s.timer = c.Clock().AfterFunc(timeout, func() {
		t.mu.Lock()
		if s.opened || s.closed {
			t.mu.Unlock()
			return
		}
		s.closed = true
		t.mu.Unlock()

		c.Logger().Info("EventSource timed out trying to connect")
		s.close()
		if !reconnecting {
			if onFailed != nil {
				onFailed(ErrConnectTimeout)
			}
			return
		}
		t.reconnect(c)
	})

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		s.close()
		if onFailed != nil {
			onFailed(err)
		}
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	go t.run(c, s, req, onSuccess, onFailed)
}

func (s *stream) close() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
}

func (t *Transport) run(c *connection.Connection, s *stream, req *http.Request, onSuccess func(), onFailed func(error)) {
	resp, err := c.HTTPClient().Do(req)
	if err == nil && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		err = &connection.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err != nil {
		t.mu.Lock()
		stale := t.stream != s || s.closed
		s.closed = true
		t.mu.Unlock()
		if stale {
			return
		}
		c.Logger().Info("EventSource failed to open", "error", err)
		s.close()
		if onFailed != nil {
			onFailed(err)
			return
		}
		t.reconnect(c)
		return
	}
	defer resp.Body.Close()

	t.mu.Lock()
	if t.stream != s || s.closed {
		t.mu.Unlock()
		return
	}
	s.opened = true
	t.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}

	c.Logger().Info("EventSource connected")
	if onSuccess != nil {
		onSuccess()
	} else if c.MarkReconnected() {
		c.Logger().Info("EventSource reconnected")
	}

	err = readEvents(resp.Body, func(data string) {
		if !t.isCurrent(s) || data == initializedData {
			return
		}
		c.ProcessMessages([]byte(data))
	})

	if !t.isCurrent(s) {
		return
	}
	if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
		c.Logger().Info("EventSource reconnecting due to the server connection ending")
		t.reconnect(c)
		return
	}
	c.Logger().Error("EventSource error", "error", err)
	c.EmitError(fmt.Errorf("event stream error: %w", err))
}

func (t *Transport) isCurrent(s *stream) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream == s && !s.closed
}

// readEvents parses an event stream and calls onData for every dispatched
// event. It returns nil when the stream ends.
func readEvents(r io.Reader, onData func(string)) error {
	reader := bufio.NewReader(r)
	var data []string

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				onData(strings.Join(data, "\n"))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

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

		t.closeStream()
		if c.EnsureReconnecting() {
			c.Logger().Info("EventSource reconnecting")
			t.Start(c.Context(), c, nil, nil)
		}
	})
}

func (t *Transport) closeStream() {
	t.mu.Lock()
	s := t.stream
	t.stream = nil
	if s != nil {
		s.closed = true
	}
	t.mu.Unlock()

	if s != nil {
		s.close()
	}
}

func (t *Transport) Send(ctx context.Context, c *connection.Connection, data []byte) error {
	return c.AjaxSend(ctx, constants.TransportServerSentEvents, data)
}

func (t *Transport) Stop(c *connection.Connection) {
	t.mu.Lock()
	if t.reconnector != nil {
		t.reconnector.Stop()
		t.reconnector = nil
	}
	t.mu.Unlock()

	t.closeStream()
	c.Logger().Info("EventSource calling close()")
}

func (t *Transport) Abort(c *connection.Connection, async bool) {
	c.AjaxAbort(constants.TransportServerSentEvents, async)
}

func (t *Transport) LostConnection(c *connection.Connection) error {
	t.reconnect(c)
	return nil
}
