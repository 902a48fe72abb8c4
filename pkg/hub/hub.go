// Package hub layers named hubs with remote method invocation and client
// event dispatch on top of a persistent connection.
package hub

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/logger"
	"github.com/surrealdb/signalr.go/pkg/metrics"
	"github.com/surrealdb/signalr.go/pkg/wire"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/surrealdb/signalr.go/pkg/hub"

// Connection is a persistent connection that dispatches hub traffic.
type Connection struct {
	*connection.Connection

	correlator Correlator
	logger     logger.Logger
	metrics    metrics.Collector
	tracer     trace.Tracer

	mu      sync.RWMutex
	proxies map[string]*Proxy
}

type Option func(*Connection)

// WithCorrelator replaces the process-wide correlator.
func WithCorrelator(c Correlator) Option {
	return func(h *Connection) {
		h.correlator = c
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(h *Connection) {
		h.metrics = m
	}
}

// WithTracerProvider sets the provider for invocation spans.
// The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Connection) {
		h.tracer = tp.Tracer(tracerName)
	}
}

// New wraps conn. It subscribes to the received and starting events, so
// proxies must be created and subscribed before Start to be announced.
func New(conn *connection.Connection, opts ...Option) *Connection {
	h := &Connection{
		Connection: conn,
		correlator: DefaultCorrelator(),
		logger:     conn.Logger(),
		metrics:    metrics.Nop{},
		tracer:     otel.Tracer(tracerName),
		proxies:    make(map[string]*Proxy),
	}
	for _, opt := range opts {
		opt(h)
	}

	conn.OnReceived(h.handleReceived)
	conn.OnStarting(h.registerSubscribedHubs)
	return h
}

// CreateHubProxy returns the proxy for the named hub, creating it on first
// use. Hub names are case-insensitive.
func (h *Connection) CreateHubProxy(name string) *Proxy {
	key := strings.ToLower(name)

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.proxies[key]; ok {
		return p
	}
	p := newProxy(h, key)
	h.proxies[key] = p
	return p
}

// Correlator returns the correlator used for invocations.
func (h *Connection) Correlator() Correlator {
	return h.correlator
}

type hubEntry struct {
	Name string `json:"name"`
}

// registerSubscribedHubs announces hubs with at least one subscription
// through connectionData.
func (h *Connection) registerSubscribedHubs() {
	h.mu.RLock()
	hubs := make([]hubEntry, 0, len(h.proxies))
	for name, p := range h.proxies {
		if p.hasSubscriptions() {
			hubs = append(hubs, hubEntry{Name: name})
		}
	}
	h.mu.RUnlock()

	data, err := json.Marshal(hubs)
	if err != nil {
		h.logger.Error("Failed to encode subscribed hubs", "error", err)
		return
	}
	h.SetConnectionData(string(data))
}

func (h *Connection) handleReceived(msg json.RawMessage) {
	if wire.IsHubResult(msg) {
		var res wire.HubResult
		if err := json.Unmarshal(msg, &res); err != nil {
			h.EmitError(fmt.Errorf("failed to decode hub result: %w", err))
			return
		}
		if cb, ok := h.correlator.Resolve(res.ID); ok {
			cb(&res)
		} else {
			h.logger.Debug("Dropping result for unknown invocation", "id", res.ID)
		}
		return
	}

	var inv wire.ClientHubInvocation
	if err := json.Unmarshal(msg, &inv); err != nil || inv.Hub == "" {
		return
	}

	h.logger.Debug("Triggering client hub event", "hub", inv.Hub, "method", inv.Method)

	h.mu.RLock()
	p, ok := h.proxies[strings.ToLower(inv.Hub)]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn("Received an invocation for an unknown hub", "hub", inv.Hub)
		return
	}

	event := inv.Hub + "." + inv.Method
	for _, err := range p.dispatch(&inv) {
		h.logger.Error("Client hub event handler failed", "event", event, "error", err)
		h.EmitError(&connection.DispatchError{Event: event, Message: msg, Err: err})
	}
}

// Arguments are the arguments of a client hub method call.
type Arguments []json.RawMessage

// Decode unmarshals argument i into v.
func (a Arguments) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("argument %d out of range, got %d arguments", i, len(a))
	}
	return json.Unmarshal(a[i], v)
}

func (a Arguments) Len() int {
	return len(a)
}
