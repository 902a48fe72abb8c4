package signalr

import (
	"strings"

	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/connection/gorillaws"
	"github.com/surrealdb/signalr.go/pkg/connection/longpolling"
	"github.com/surrealdb/signalr.go/pkg/connection/sse"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/hub"
)

// DefaultPath is appended to the server URL by NewHubConnection.
const DefaultPath = "/signalr"

// DefaultTransports returns a registry holding the built-in transports in
// priority order: webSockets, serverSentEvents, longPolling.
func DefaultTransports() *connection.Registry {
	return connection.NewRegistry().
		MustRegister(constants.TransportWebSockets, gorillaws.Factory()).
		MustRegister(constants.TransportServerSentEvents, sse.Factory()).
		MustRegister(constants.TransportLongPolling, longpolling.Factory())
}

// NewConnection creates a persistent connection to url using the built-in
// transports. Options are applied after the defaults.
func NewConnection(url string, opts ...connection.Option) (*connection.Connection, error) {
	all := append([]connection.Option{connection.WithRegistry(DefaultTransports())}, opts...)
	return connection.New(url, all...)
}

// NewHubConnection creates a hub connection to the server at url, mounted on DefaultPath.
func NewHubConnection(url string, opts ...connection.Option) (*hub.Connection, error) {
	return NewHubConnectionAt(strings.TrimRight(url, "/")+DefaultPath, opts...)
}

// NewHubConnectionAt creates a hub connection using url as the endpoint as-is.
func NewHubConnectionAt(url string, opts ...connection.Option) (*hub.Connection, error) {
	conn, err := NewConnection(url, opts...)
	if err != nil {
		return nil, err
	}
	return hub.New(conn), nil
}
