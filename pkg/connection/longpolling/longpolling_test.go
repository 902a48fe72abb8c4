package longpolling_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/signalr.go/internal/fakeserver"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/connection/longpolling"
	"github.com/surrealdb/signalr.go/pkg/logger"
)

func start(t *testing.T, srv *fakeserver.Server) (*connection.Connection, *longpolling.Transport) {
	t.Helper()

	lp := longpolling.New()
	r := connection.NewRegistry()
	require.NoError(t, r.Register(lp.Name(), func() connection.Transport { return lp }))

	c, err := connection.New(srv.URL(), connection.WithRegistry(r), connection.WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { c.StopWith(false, false) })

	require.NoError(t, c.Start(context.Background(), connection.StartConfig{}))
	return c, lp
}

func waitTask(t *testing.T, lp *longpolling.Transport) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		lp.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("polling task is still running")
	}
}

func TestStopEndsPolling(t *testing.T) {
	srv := fakeserver.NewServer("127.0.0.1:0")
	srv.PollTimeout = time.Second
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	c, lp := start(t, srv)
	require.Eventually(t, func() bool { return len(srv.Requests("poll")) > 0 }, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	waitTask(t, lp)

	polls := len(srv.Requests("poll"))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, srv.Requests("poll"), polls, "no poll after the task ended")
	assert.Len(t, srv.Requests("abort"), 1)
}

func TestServerDisconnectEndsPolling(t *testing.T) {
	srv := fakeserver.NewServer("127.0.0.1:0")
	srv.PollTimeout = 100 * time.Millisecond
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	c, lp := start(t, srv)
	srv.SendDisconnect()

	waitTask(t, lp)
	assert.Equal(t, connection.StateDisconnected, c.State())
}
