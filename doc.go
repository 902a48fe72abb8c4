// The [signalr] package implements a persistent connection client for the
// ASP.NET SignalR 1.x protocol in the Go way.
//
// # Transports
//
// There are 3 different transports, webSockets, serverSentEvents and longPolling.
// After negotiating a session the connection tries them in that order and keeps
// the first one that starts. Pass [connection.StartConfig] to pick transports
// explicitly or to add your own [connection.Transport].
//
// The webSockets transport dials with gorilla/websocket by default. Register
// [github.com/surrealdb/signalr.go/pkg/connection/gws.Factory] under the same
// name in your own [connection.Registry] to use lxzan/gws instead.
//
// # Reconnecting
//
// A transport that loses its stream reconnects on its own after the reconnect
// delay, resuming from the last message id. The connection reports this
// through the reconnecting and reconnected events, and gives up once the
// negotiated disconnect timeout passes without a successful reconnect.
//
// # Hubs
//
// [NewHubConnection] layers hubs on top of a connection. Subscribe to client
// methods with [hub.Proxy.On] before starting and call server methods with
// [hub.Proxy.Invoke] or the generic [hub.Invoke]:
//
//	conn, err := signalr.NewHubConnection("http://localhost:8080")
//	if err != nil {
//		return err
//	}
//	chat := conn.CreateHubProxy("chat")
//	chat.On("broadcast", func(args hub.Arguments) error {
//		var text string
//		return args.Decode(0, &text)
//	})
//	if err := conn.Start(ctx, connection.StartConfig{}); err != nil {
//		return err
//	}
//	sum, err := hub.Invoke[int](ctx, chat, "add", 2, 3)
//
// # Logging
//
// Connections log through [logger.Logger]. Use [logger.New] with any slog
// handler, or the zerolog adapter in pkg/logger/zerolog.
package signalr
