package hub

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/signalr.go/internal/fakeserver"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/connection/gorillaws"
	"github.com/surrealdb/signalr.go/pkg/connection/longpolling"
	"github.com/surrealdb/signalr.go/pkg/logger"
	"github.com/surrealdb/signalr.go/pkg/wire"
	"go.opentelemetry.io/otel/trace/noop"
)

func newUnstarted(t *testing.T) *Connection {
	t.Helper()
	conn, err := connection.New("http://localhost:8080/signalr")
	require.NoError(t, err)
	return New(conn, WithCorrelator(NewTable()))
}

// startHub starts a hub connection over one transport against a fake server.
// setup runs before Start so proxies can subscribe.
func startHub(t *testing.T, factory connection.Factory, setup func(h *Connection)) (*Connection, *fakeserver.Server) {
	t.Helper()

	srv := fakeserver.NewServer("127.0.0.1:0")
	srv.PollTimeout = 100 * time.Millisecond
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	r := connection.NewRegistry()
	require.NoError(t, r.Register(factory().Name(), factory))

	conn, err := connection.New(srv.URL(), connection.WithRegistry(r))
	require.NoError(t, err)
	t.Cleanup(func() { conn.StopWith(false, false) })

	h := New(conn, WithCorrelator(NewTable()), WithTracerProvider(noop.NewTracerProvider()))
	if setup != nil {
		setup(h)
	}
	require.NoError(t, conn.Start(context.Background(), connection.StartConfig{}))
	return h, srv
}

func TestCreateHubProxy(t *testing.T) {
	h := newUnstarted(t)

	p := h.CreateHubProxy("ChatHub")
	assert.Equal(t, "chathub", p.Name())
	assert.Same(t, p, h.CreateHubProxy("chathub"))
}

func TestClientEventDispatch(t *testing.T) {
	t.Run("method names are case-insensitive", func(t *testing.T) {
		h := newUnstarted(t)
		p := h.CreateHubProxy("Chat")

		var got []string
		p.On("Broadcast", func(args Arguments) error {
			var msg string
			if err := args.Decode(0, &msg); err != nil {
				return err
			}
			got = append(got, msg)
			return nil
		})

		h.handleReceived(json.RawMessage(`{"H":"chat","M":"broadcast","A":["hi"]}`))
		h.handleReceived(json.RawMessage(`{"H":"CHAT","M":"BROADCAST","A":["again"]}`))

		assert.Equal(t, []string{"hi", "again"}, got)
	})

	t.Run("state is merged before handlers run", func(t *testing.T) {
		h := newUnstarted(t)
		p := h.CreateHubProxy("chat")
		require.NoError(t, p.SetState("name", "ada"))

		var seen wire.State
		p.On("update", func(Arguments) error {
			seen = p.State()
			return nil
		})

		h.handleReceived(json.RawMessage(`{"H":"chat","M":"update","A":[],"S":{"count":2}}`))

		assert.JSONEq(t, `2`, string(seen["count"]))
		assert.JSONEq(t, `"ada"`, string(seen["name"]))
	})

	t.Run("handler errors are reported and do not stop other handlers", func(t *testing.T) {
		var logs bytes.Buffer
		conn, err := connection.New("http://localhost:8080/signalr",
			connection.WithLogger(logger.New(slog.NewTextHandler(&logs, nil))))
		require.NoError(t, err)
		h := New(conn, WithCorrelator(NewTable()))
		p := h.CreateHubProxy("chat")

		var errs []error
		h.OnError(func(err error) { errs = append(errs, err) })

		calls := 0
		p.On("send", func(Arguments) error { return errors.New("bad handler") })
		p.On("send", func(Arguments) error { panic("worse handler") })
		p.On("send", func(Arguments) error { calls++; return nil })

		h.handleReceived(json.RawMessage(`{"H":"chat","M":"send","A":[1]}`))

		assert.Equal(t, 1, calls)
		require.Len(t, errs, 2)
		for _, err := range errs {
			var dispatchErr *connection.DispatchError
			require.ErrorAs(t, err, &dispatchErr)
			assert.Equal(t, "chat.send", dispatchErr.Event)
		}
		assert.Equal(t, 2, strings.Count(logs.String(), "Client hub event handler failed"))
		assert.Contains(t, logs.String(), "event=chat.send")
	})

	t.Run("off removes handlers", func(t *testing.T) {
		h := newUnstarted(t)
		p := h.CreateHubProxy("chat")

		calls := 0
		keep := p.On("ping", func(Arguments) error { calls++; return nil })
		drop := p.On("ping", func(Arguments) error { calls += 10; return nil })

		p.Off("Ping", drop)
		h.handleReceived(json.RawMessage(`{"H":"chat","M":"ping","A":[]}`))
		assert.Equal(t, 1, calls)

		p.Off("ping")
		h.handleReceived(json.RawMessage(`{"H":"chat","M":"ping","A":[]}`))
		assert.Equal(t, 1, calls)
		assert.False(t, p.hasSubscriptions())
		keep.Off()
	})

	t.Run("unknown hubs and plain messages are ignored", func(t *testing.T) {
		h := newUnstarted(t)
		p := h.CreateHubProxy("chat")
		called := false
		p.On("x", func(Arguments) error { called = true; return nil })

		h.handleReceived(json.RawMessage(`{"H":"other","M":"x","A":[]}`))
		h.handleReceived(json.RawMessage(`"just a string"`))
		h.handleReceived(json.RawMessage(`{"M":"x"}`))

		assert.False(t, called)
	})
}

func TestArguments(t *testing.T) {
	args := Arguments{json.RawMessage(`1`), json.RawMessage(`{"a":"b"}`)}
	assert.Equal(t, 2, args.Len())

	var n int
	require.NoError(t, args.Decode(0, &n))
	assert.Equal(t, 1, n)

	var m map[string]string
	require.NoError(t, args.Decode(1, &m))
	assert.Equal(t, map[string]string{"a": "b"}, m)

	assert.Error(t, args.Decode(2, &n))
}

func TestSubscribedHubsAreAnnounced(t *testing.T) {
	h, srv := startHub(t, longpolling.Factory(), func(h *Connection) {
		h.CreateHubProxy("Chat").On("message", func(Arguments) error { return nil })
		h.CreateHubProxy("idle")
	})

	assert.JSONEq(t, `[{"name":"chat"}]`, h.Data())

	connects := srv.Requests("connect")
	require.Len(t, connects, 1)
	assert.JSONEq(t, `[{"name":"chat"}]`, connects[0].Query["connectionData"])
}

func TestInvoke(t *testing.T) {
	transports := map[string]connection.Factory{
		"longpolling": longpolling.Factory(),
		"gorillaws":   gorillaws.Factory(),
	}

	for name, factory := range transports {
		t.Run(name, func(t *testing.T) {
			h, srv := startHub(t, factory, nil)

			srv.AddHubMethod("calc", "add", func(call *fakeserver.HubCall) (any, error) {
				var a, b int
				if err := json.Unmarshal(call.Args[0], &a); err != nil {
					return nil, err
				}
				if err := json.Unmarshal(call.Args[1], &b); err != nil {
					return nil, err
				}
				return a + b, nil
			})
			srv.AddHubMethod("calc", "count", func(call *fakeserver.HubCall) (any, error) {
				var n int
				if raw, ok := call.State["count"]; ok {
					_ = json.Unmarshal(raw, &n)
				}
				n++
				call.State["count"] = json.RawMessage(mustMarshal(t, n))
				return nil, nil
			})
			srv.AddHubMethod("calc", "fail", func(*fakeserver.HubCall) (any, error) {
				return nil, errors.New("division by zero")
			})

			p := h.CreateHubProxy("Calc")
			ctx := context.Background()

			t.Run("result", func(t *testing.T) {
				sum, err := Invoke[int](ctx, p, "add", 2, 3)
				require.NoError(t, err)
				assert.Equal(t, 5, sum)
				assert.Zero(t, h.Correlator().Pending())
			})

			t.Run("state round trip", func(t *testing.T) {
				for i := 0; i < 2; i++ {
					raw, err := p.Invoke(ctx, "count")
					require.NoError(t, err)
					assert.Empty(t, raw)
				}
				assert.JSONEq(t, `2`, string(p.State()["count"]))
			})

			t.Run("server error", func(t *testing.T) {
				_, err := p.Invoke(ctx, "fail")
				require.Error(t, err)
				assert.True(t, IsInvocationError(err))

				var invErr *InvocationError
				require.ErrorAs(t, err, &invErr)
				assert.Equal(t, "calc", invErr.Hub)
				assert.Equal(t, "fail", invErr.Method)
				assert.Equal(t, "division by zero", invErr.Message)
				assert.Zero(t, h.Correlator().Pending())
			})

			t.Run("unknown method", func(t *testing.T) {
				_, err := p.Invoke(ctx, "missing")
				var invErr *InvocationError
				require.ErrorAs(t, err, &invErr)
				assert.Contains(t, invErr.Message, "could not be resolved")
			})
		})
	}
}

func TestInvokeCancelled(t *testing.T) {
	h, srv := startHub(t, gorillaws.Factory(), nil)

	release := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	srv.AddHubMethod("slow", "wait", func(*fakeserver.HubCall) (any, error) {
		<-release
		return "late", nil
	})

	p := h.CreateHubProxy("slow")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Invoke(ctx, "wait")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, h.Correlator().Pending())

	once.Do(func() { close(release) })
}

func TestInvokeBeforeStart(t *testing.T) {
	h := newUnstarted(t)
	p := h.CreateHubProxy("chat")

	_, err := p.Invoke(context.Background(), "send", "hi")
	require.Error(t, err)
	assert.Zero(t, h.Correlator().Pending())
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
