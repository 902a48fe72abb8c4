package connection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/surrealdb/signalr.go/internal/fakeserver"
	"github.com/surrealdb/signalr.go/pkg/constants"
)

// fakeTransport records how the connection drives it.
type fakeTransport struct {
	name      string
	keepAlive bool
	fail      error
	release   chan struct{}
	// stopping, when set, is closed once Stop is entered and Stop then
	// blocks until unblock is closed.
	stopping    chan struct{}
	unblock     chan struct{}
	panicOnStop bool

	mu      sync.Mutex
	started int
	stopped int
	aborted int
	lost    int
	sent    [][]byte
}

func (f *fakeTransport) Name() string            { return f.name }
func (f *fakeTransport) SupportsKeepAlive() bool { return f.keepAlive }

func (f *fakeTransport) Start(ctx context.Context, c *Connection, onSuccess func(), onFailed func(error)) {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()

	switch {
	case f.fail != nil:
		onFailed(f.fail)
	case f.release != nil:
		go func() {
			select {
			case <-f.release:
				onSuccess()
			case <-ctx.Done():
			}
		}()
	default:
		onSuccess()
	}
}

func (f *fakeTransport) Send(ctx context.Context, c *Connection, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Stop(c *Connection) {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()

	if f.stopping != nil {
		close(f.stopping)
		<-f.unblock
	}
	if f.panicOnStop {
		panic("transport teardown failed")
	}
}

func (f *fakeTransport) Abort(c *Connection, async bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
}

func (f *fakeTransport) LostConnection(c *Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lost++
	return nil
}

func (f *fakeTransport) counts() (started, stopped, aborted, lost int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped, f.aborted, f.lost
}

func (f *fakeTransport) sentData() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, string(s))
	}
	return out
}

func newFakeServer(t *testing.T) *fakeserver.Server {
	t.Helper()
	srv := fakeserver.NewServer("127.0.0.1:0")
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// registryOf registers the given fake transports, sharing one instance per name.
func registryOf(t *testing.T, transports ...*fakeTransport) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, ft := range transports {
		ft := ft
		require.NoError(t, r.Register(ft.name, func() Transport { return ft }))
	}
	return r
}

func newTestConnection(t *testing.T, srv *fakeserver.Server, r *Registry, opts ...Option) *Connection {
	t.Helper()
	all := append([]Option{WithRegistry(r)}, opts...)
	c, err := New(srv.URL(), all...)
	require.NoError(t, err)
	t.Cleanup(func() { c.StopWith(false, false) })
	return c
}

func fakeLongPolling() *fakeTransport {
	return &fakeTransport{name: constants.TransportLongPolling}
}
