package signalr_test

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/surrealdb/signalr.go"
	"github.com/surrealdb/signalr.go/internal/fakeserver"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/hub"
)

func ExampleNewHubConnection() {
	srv := fakeserver.NewServer("127.0.0.1:0")
	if err := srv.Start(); err != nil {
		panic(err)
	}
	defer srv.Stop() //nolint:errcheck

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

	conn, err := signalr.NewHubConnection("http://" + srv.Address())
	if err != nil {
		panic(err)
	}
	calc := conn.CreateHubProxy("calc")

	ctx := context.Background()
	if err := conn.Start(ctx, connection.StartConfig{}); err != nil {
		panic(err)
	}
	defer conn.Stop()

	sum, err := hub.Invoke[int](ctx, calc, "add", 2, 3)
	if err != nil {
		panic(err)
	}
	fmt.Println(sum)

	// Output:
	// 5
}

func ExampleNewConnection() {
	srv := fakeserver.NewServer("127.0.0.1:0")
	if err := srv.Start(); err != nil {
		panic(err)
	}
	defer srv.Stop() //nolint:errcheck

	conn, err := signalr.NewConnection(srv.URL())
	if err != nil {
		panic(err)
	}

	received := make(chan string, 1)
	conn.OnReceived(func(msg json.RawMessage) {
		received <- string(msg)
	})

	ctx := context.Background()
	if err := conn.Start(ctx, connection.StartConfig{Transport: connection.Names("longPolling")}); err != nil {
		panic(err)
	}
	defer conn.Stop()

	if err := srv.Broadcast(map[string]string{"greeting": "hello"}); err != nil {
		panic(err)
	}
	fmt.Println(<-received)
	fmt.Println(conn.State())

	// Output:
	// {"greeting":"hello"}
	// Connected
}
