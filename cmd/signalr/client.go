package main

import (
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/hub"
	"github.com/surrealdb/signalr.go/pkg/metrics"
)

// newHubConnection builds an unstarted hub connection from cfg.
func newHubConnection(cfg config, m metrics.Collector) (*hub.Connection, error) {
	log, err := cfg.logger()
	if err != nil {
		return nil, err
	}
	registry, err := cfg.registry()
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.Nop{}
	}

	conn, err := connection.New(cfg.endpoint(),
		connection.WithLogger(log),
		connection.WithRegistry(registry),
		connection.WithQueryString(cfg.Query),
		connection.WithReconnectDelay(cfg.ReconnectDelay),
		connection.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	return hub.New(conn, hub.WithMetrics(m)), nil
}
