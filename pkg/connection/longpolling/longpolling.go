// Package longpolling implements the longPolling transport.
//
// Polling runs as a single cancellable task per start. Each iteration issues
// one poll, processes the returned frame and waits for the negotiated or
// server requested delay before the next one.
package longpolling

import (
	"context"
	"sync"
	"time"

	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/wire"
)

// Transport is the longPolling transport. One instance serves one connection.
type Transport struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ connection.Transport = (*Transport)(nil)

func New() *Transport {
	return &Transport{}
}

func Factory() connection.Factory {
	return func() connection.Transport { return New() }
}

func (t *Transport) Name() string {
	return constants.TransportLongPolling
}

func (t *Transport) SupportsKeepAlive() bool {
	return false
}

func (t *Transport) Start(ctx context.Context, c *connection.Connection, onSuccess func(), onFailed func(error)) {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	taskCtx, cancel := context.WithCancel(c.Context())
	t.cancel = cancel
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	var once sync.Once
	connected := func() {
		once.Do(func() {
			if onSuccess != nil {
				onSuccess()
			}
		})
	}

	go func() {
		defer close(done)
		if !t.waitForServer(taskCtx, c) {
			return
		}
		c.Logger().Info("LongPolling connected")
		t.poll(taskCtx, c, connected)
	}()
}

// waitForServer pings until the server answers. It gives up only when the
// connection is disconnecting and reports whether polling may proceed.
func (t *Transport) waitForServer(ctx context.Context, c *connection.Connection) bool {
	for {
		err := c.Ping(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil || c.IsDisconnecting() {
			return false
		}
		c.Logger().Info("Server ping failed, retrying", "error", err, "delay", constants.LongPollingReconnectDelay)

		select {
		case <-c.Clock().After(constants.LongPollingReconnectDelay):
		case <-ctx.Done():
			return false
		}
	}
}

func (t *Transport) poll(ctx context.Context, c *connection.Connection, connected func()) {
	grace := c.Clock().AfterFunc(constants.LongPollingConnectGrace, connected)
	defer grace.Stop()

	raiseReconnect := false
	for {
		if ctx.Err() != nil || c.IsDisconnecting() {
			return
		}

		reconnecting := c.MessageID() != ""
		url := c.TransportURL(constants.TransportLongPolling, reconnecting, raiseReconnect)
		c.Logger().Debug("Opening long polling request", "url", url)

		body, err := t.get(ctx, c, url)
		if err != nil {
			if ctx.Err() != nil {
				c.Logger().Debug("Long polling request aborted")
				return
			}
			if c.State() != connection.StateReconnecting {
				c.Logger().Error("An error occurred using longPolling", "error", err)
				c.EmitError(err)
			}
			c.EnsureReconnecting()
			if !t.waitForServer(ctx, c) {
				return
			}
			raiseReconnect = true
			continue
		}

		connected()
		if raiseReconnect {
			raiseReconnect = false
			if c.MarkReconnected() {
				c.Logger().Info("Raising the reconnect event")
			}
		}

		res, err := wire.DecodePersistentResponse(body)
		if err != nil {
			c.EmitError(err)
		} else {
			c.ProcessMessages(body)
		}

		if res != nil && res.Disconnect {
			return
		}

		delay := c.LongPollDelay()
		if res != nil && res.HasLongPollDelay {
			delay = res.LongPollDelay
		}
		if !t.sleep(ctx, c, delay) {
			return
		}
	}
}

// get issues one poll, bounded by the negotiated poll timeout.
func (t *Transport) get(ctx context.Context, c *connection.Connection, url string) ([]byte, error) {
	if timeout := c.PollTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Get(ctx, url)
}

func (t *Transport) sleep(ctx context.Context, c *connection.Connection, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-c.Clock().After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) Send(ctx context.Context, c *connection.Connection, data []byte) error {
	return c.AjaxSend(ctx, constants.TransportLongPolling, data)
}

// Stop aborts the in-flight poll and ends the task.
func (t *Transport) Stop(c *connection.Connection) {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the polling task has exited. It is meant for tests.
func (t *Transport) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (t *Transport) Abort(c *connection.Connection, async bool) {
	c.AjaxAbort(constants.TransportLongPolling, async)
}

func (t *Transport) LostConnection(c *connection.Connection) error {
	return constants.ErrLostConnectionUnsupported
}
