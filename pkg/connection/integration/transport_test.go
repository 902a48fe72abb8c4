package integration

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"
	"github.com/surrealdb/signalr.go/internal/fakeserver"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/connection/gorillaws"
	"github.com/surrealdb/signalr.go/pkg/connection/gws"
	"github.com/surrealdb/signalr.go/pkg/connection/longpolling"
	"github.com/surrealdb/signalr.go/pkg/connection/sse"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/logger"
)

type TransportTestSuite struct {
	suite.Suite
	name    string
	factory connection.Factory

	srv  *fakeserver.Server
	conn *connection.Connection

	mu          sync.Mutex
	received    []string
	errs         []error
	reconnecting int
	reconnected  int
}

func TestTransportTestSuite(t *testing.T) {
	implementations := map[string]connection.Factory{
		"gorillaws":   gorillaws.Factory(),
		"gws":         gws.Factory(&gws.Dialer{}),
		"sse":         sse.Factory(),
		"longpolling": longpolling.Factory(),
	}

	for name, factory := range implementations {
		t.Run(name, func(t *testing.T) {
			ts := &TransportTestSuite{name: name, factory: factory}
			suite.Run(t, ts)
		})
	}
}

func (s *TransportTestSuite) SetupTest() {
	s.srv = fakeserver.NewServer("127.0.0.1:0")
	s.srv.PollTimeout = 100 * time.Millisecond
	s.Require().NoError(s.srv.Start())

	r := connection.NewRegistry()
	s.Require().NoError(r.Register(s.factory().Name(), s.factory))

	conn, err := connection.New(s.srv.URL(),
		connection.WithRegistry(r),
		connection.WithReconnectDelay(50*time.Millisecond),
		connection.WithLogger(logger.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))),
	)
	s.Require().NoError(err)
	s.conn = conn

	s.mu.Lock()
	s.received, s.errs, s.reconnecting, s.reconnected = nil, nil, 0, 0
	s.mu.Unlock()

	conn.OnReceived(func(msg json.RawMessage) {
		s.mu.Lock()
		s.received = append(s.received, string(msg))
		s.mu.Unlock()
	})
	conn.OnError(func(err error) {
		s.mu.Lock()
		s.errs = append(s.errs, err)
		s.mu.Unlock()
	})
	conn.OnReconnecting(func() {
		s.mu.Lock()
		s.reconnecting++
		s.mu.Unlock()
	})
	conn.OnReconnected(func() {
		s.mu.Lock()
		s.reconnected++
		s.mu.Unlock()
	})

	s.Require().NoError(conn.Start(context.Background(), connection.StartConfig{}))
}

func (s *TransportTestSuite) TearDownTest() {
	s.conn.StopWith(false, false)
	s.Require().NoError(s.srv.Stop())
}

func (s *TransportTestSuite) hasReceived(msg string) func() bool {
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, m := range s.received {
			if m == msg {
				return true
			}
		}
		return false
	}
}

func (s *TransportTestSuite) Test_Connected() {
	s.Assert().Equal(connection.StateConnected, s.conn.State())
	s.Assert().Equal(s.factory().Name(), s.conn.TransportName())

	connects := s.srv.Requests("connect")
	s.Require().Len(connects, 1)
	s.Assert().Equal(s.factory().Name(), connects[0].Query["transport"])
	s.Assert().Equal(s.conn.Token(), connects[0].Query["connectionToken"])
}

func (s *TransportTestSuite) Test_ReceiveBroadcast() {
	s.Require().Eventually(func() bool { return len(s.srv.Connected()) > 0 || s.name == "longpolling" }, 2*time.Second, 10*time.Millisecond)

	s.Require().NoError(s.srv.Broadcast("hello"))
	s.Require().NoError(s.srv.Broadcast(map[string]int{"n": 1}))

	s.Assert().Eventually(s.hasReceived(`"hello"`), 3*time.Second, 10*time.Millisecond)
	s.Assert().Eventually(s.hasReceived(`{"n":1}`), 3*time.Second, 10*time.Millisecond)
	s.Assert().Eventually(func() bool { return s.conn.MessageID() == "2" }, 3*time.Second, 10*time.Millisecond)
}

func (s *TransportTestSuite) Test_Send() {
	s.Require().NoError(s.conn.Send(context.Background(), "ping"))
	s.Require().NoError(s.conn.Send(context.Background(), map[string]string{"text": "hi"}))

	s.Assert().Eventually(func() bool {
		got := s.srv.Received()
		return len(got) == 2 && got[0] == "ping" && got[1] == `{"text":"hi"}`
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *TransportTestSuite) Test_Reconnect() {
	s.Require().Eventually(func() bool { return len(s.srv.Connected()) > 0 || s.name == "longpolling" }, 2*time.Second, 10*time.Millisecond)

	if s.name == "longpolling" {
		// The first failed poll starts the episode. Recovery polls go to
		// the reconnect endpoint and fail twice more before one succeeds.
		s.srv.SetFailure("poll", fakeserver.FailureConfig{Type: fakeserver.FailureStatus, Times: 1})
		s.srv.SetFailure("reconnect", fakeserver.FailureConfig{Type: fakeserver.FailureStatus, Times: 2})
	} else {
		s.srv.DropConnections()
	}
	s.Require().NoError(s.srv.Broadcast("missed"))

	s.Require().Eventually(func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.reconnected > 0
	}, 5*time.Second, 10*time.Millisecond)
	s.Assert().Equal(connection.StateConnected, s.conn.State())
	s.Assert().NotEmpty(s.srv.Requests("reconnect"))
	s.Assert().Eventually(s.hasReceived(`"missed"`), 3*time.Second, 10*time.Millisecond)

	s.Require().NoError(s.srv.Broadcast("after"))
	s.Assert().Eventually(s.hasReceived(`"after"`), 3*time.Second, 10*time.Millisecond)

	if s.name == "longpolling" {
		s.Assert().Len(s.srv.Requests("reconnect"), 3)
		polls := len(s.srv.Requests("poll"))
		s.Require().Eventually(func() bool { return len(s.srv.Requests("poll")) >= polls+3 }, 3*time.Second, 10*time.Millisecond)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Assert().Equal(1, s.reconnecting, "one reconnecting event per episode")
	s.Assert().Equal(1, s.reconnected, "one reconnected event per episode")
}

func (s *TransportTestSuite) Test_ServerDisconnect() {
	s.Require().Eventually(func() bool { return len(s.srv.Connected()) > 0 || s.name == "longpolling" }, 2*time.Second, 10*time.Millisecond)

	disconnected := make(chan struct{})
	var once sync.Once
	s.conn.OnDisconnected(func() { once.Do(func() { close(disconnected) }) })

	s.srv.SendDisconnect()

	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		s.Fail("connection was not disconnected by the server")
	}
	s.Assert().Eventually(func() bool { return s.conn.State() == connection.StateDisconnected }, time.Second, 10*time.Millisecond)
}

func (s *TransportTestSuite) Test_Stop() {
	s.conn.Stop()

	s.Assert().Equal(connection.StateDisconnected, s.conn.State())
	s.Assert().Empty(s.conn.ID())
	s.Assert().ErrorIs(s.conn.Send(context.Background(), "late"), constants.ErrNotStarted)

	if s.name == "sse" || s.name == "longpolling" {
		aborts := s.srv.Requests("abort")
		s.Require().Len(aborts, 1)
		s.Assert().Equal(s.factory().Name(), aborts[0].Query["transport"])
	}
}
