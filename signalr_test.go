package signalr_test

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/signalr.go"
	"github.com/surrealdb/signalr.go/internal/fakeserver"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/hub"
)

func newServer(t *testing.T) *fakeserver.Server {
	t.Helper()
	srv := fakeserver.NewServer("127.0.0.1:0")
	srv.PollTimeout = 100 * time.Millisecond
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestDefaultTransports(t *testing.T) {
	assert.Equal(t, []string{
		constants.TransportWebSockets,
		constants.TransportServerSentEvents,
		constants.TransportLongPolling,
	}, signalr.DefaultTransports().Names())
}

func TestNewHubConnectionAppendsDefaultPath(t *testing.T) {
	h, err := signalr.NewHubConnection("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/signalr", h.URL())

	h, err = signalr.NewHubConnectionAt("http://localhost:8080/hubs")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/hubs", h.URL())

	_, err = signalr.NewConnection("ws://localhost:8080/signalr")
	assert.ErrorIs(t, err, constants.ErrUnsupportedScheme)
}

func TestTransportSelection(t *testing.T) {
	testCases := []struct {
		name    string
		prepare func(srv *fakeserver.Server)
		start   connection.StartConfig
		want    string
	}{
		{
			name: "auto prefers webSockets",
			want: constants.TransportWebSockets,
		},
		{
			name:    "rejected upgrade falls back to serverSentEvents",
			prepare: func(srv *fakeserver.Server) { srv.DisableTransport(constants.TransportWebSockets) },
			want:    constants.TransportServerSentEvents,
		},
		{
			name:    "server without websocket support",
			prepare: func(srv *fakeserver.Server) { srv.TryWebSockets = false },
			want:    constants.TransportServerSentEvents,
		},
		{
			name: "every streaming transport refused",
			prepare: func(srv *fakeserver.Server) {
				srv.DisableTransport(constants.TransportWebSockets)
				srv.DisableTransport(constants.TransportServerSentEvents)
			},
			want: constants.TransportLongPolling,
		},
		{
			name:  "explicit list",
			start: connection.StartConfig{Transport: connection.Names(constants.TransportLongPolling, constants.TransportWebSockets)},
			want:  constants.TransportLongPolling,
		},
		{
			name:  "jsonp forces longPolling",
			start: connection.StartConfig{JSONP: true},
			want:  constants.TransportLongPolling,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t)
			if tc.prepare != nil {
				tc.prepare(srv)
			}

			conn, err := signalr.NewConnection(srv.URL())
			require.NoError(t, err)
			t.Cleanup(conn.Stop)

			require.NoError(t, conn.Start(context.Background(), tc.start))
			assert.Equal(t, tc.want, conn.TransportName())
			assert.Equal(t, connection.StateConnected, conn.State())
		})
	}
}

func TestCrossDomainSkipsServerSentEvents(t *testing.T) {
	srv := newServer(t)
	srv.DisableTransport(constants.TransportWebSockets)

	conn, err := signalr.NewConnection(srv.URL(), connection.WithOrigin("http://app.example.com"))
	require.NoError(t, err)
	t.Cleanup(conn.Stop)

	require.NoError(t, conn.Start(context.Background(), connection.StartConfig{}))
	assert.Equal(t, constants.TransportLongPolling, conn.TransportName())
	for _, r := range srv.Requests("connect") {
		assert.NotEqual(t, constants.TransportServerSentEvents, r.Query["transport"])
	}
}

func TestJSONPRequests(t *testing.T) {
	srv := newServer(t)
	srv.AddHubMethod("echo", "say", func(call *fakeserver.HubCall) (any, error) {
		return call.Args[0], nil
	})

	h, err := signalr.NewHubConnectionAt(srv.URL())
	require.NoError(t, err)
	t.Cleanup(h.Stop)
	echo := h.CreateHubProxy("echo")

	require.NoError(t, h.Start(context.Background(), connection.StartConfig{JSONP: true}))
	assert.True(t, h.IsJSONP())

	got, err := hub.Invoke[string](context.Background(), echo, "say", "padded")
	require.NoError(t, err)
	assert.Equal(t, "padded", got)

	for _, r := range srv.Requests("send") {
		assert.NotEmpty(t, r.Query["callback"])
	}
}

func TestChatRoundTrip(t *testing.T) {
	for _, transport := range []string{
		constants.TransportWebSockets,
		constants.TransportServerSentEvents,
		constants.TransportLongPolling,
	} {
		t.Run(transport, func(t *testing.T) {
			srv := newServer(t)
			srv.AddHubMethod("chat", "send", func(call *fakeserver.HubCall) (any, error) {
				var text string
				if err := json.Unmarshal(call.Args[0], &text); err != nil {
					return nil, err
				}
				return nil, srv.InvokeClient("chat", "broadcast", "echo: "+text)
			})

			h, err := signalr.NewHubConnectionAt(srv.URL())
			require.NoError(t, err)
			t.Cleanup(h.Stop)

			chat := h.CreateHubProxy("Chat")
			messages := make(chan string, 4)
			chat.On("Broadcast", func(args hub.Arguments) error {
				var text string
				if err := args.Decode(0, &text); err != nil {
					return err
				}
				messages <- text
				return nil
			})

			require.NoError(t, h.Start(context.Background(), connection.StartConfig{Transport: connection.Names(transport)}))
			require.Equal(t, transport, h.TransportName())

			_, err = chat.Invoke(context.Background(), "send", "hi")
			require.NoError(t, err)

			select {
			case msg := <-messages:
				assert.Equal(t, "echo: hi", msg)
			case <-time.After(3 * time.Second):
				t.Fatal("broadcast not received")
			}
		})
	}
}
