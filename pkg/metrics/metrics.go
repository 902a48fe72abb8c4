// Package metrics exposes connection and hub activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector receives connection and hub events.
// Implementations must be safe for concurrent use.
type Collector interface {
	StateChanged(from, to string)
	TransportSelected(transport string)
	TransportFailed(transport string)
	Reconnected(transport string)
	FrameReceived(transport string, messages int)
	InvocationStarted(hub string)
	InvocationCompleted(hub string, outcome string, elapsed time.Duration)
}

// Invocation outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeSendError = "send_error"
)

// Nop discards everything.
type Nop struct{}

var _ Collector = Nop{}

func (Nop) StateChanged(string, string)                        {}
func (Nop) TransportSelected(string)                           {}
func (Nop) TransportFailed(string)                             {}
func (Nop) Reconnected(string)                                 {}
func (Nop) FrameReceived(string, int)                          {}
func (Nop) InvocationStarted(string)                           {}
func (Nop) InvocationCompleted(string, string, time.Duration) {}

// Config configures the Prometheus collector.
type Config struct {
	// Namespace is the metrics namespace (default: "signalr").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for invocation duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the Prometheus collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "signalr",
		Subsystem: "client",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Prometheus is a Collector backed by Prometheus metrics.
type Prometheus struct {
	stateTransitions   *prometheus.CounterVec
	transportSelected  *prometheus.CounterVec
	transportFailed    *prometheus.CounterVec
	reconnectsTotal    *prometheus.CounterVec
	framesReceived     *prometheus.CounterVec
	messagesReceived   *prometheus.CounterVec
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	pendingCalls       prometheus.Gauge
}

var _ Collector = (*Prometheus)(nil)

// New registers the collector's metrics and returns it.
// Registering twice against the same registry panics, as with promauto.
func New(opts ...Option) *Prometheus {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Prometheus{
		stateTransitions:  counter("state_transitions_total", "Committed connection state transitions", "from", "to"),
		transportSelected: counter("transport_selected_total", "Transports that started successfully", "transport"),
		transportFailed:   counter("transport_failed_total", "Transports that failed to start", "transport"),
		reconnectsTotal:   counter("reconnects_total", "Successful reconnections", "transport"),
		framesReceived:    counter("frames_received_total", "Persistent response frames processed", "transport"),
		messagesReceived:  counter("messages_received_total", "Messages raised as received", "transport"),
		invocationsTotal:  counter("hub_invocations_total", "Completed hub invocations", "hub", "outcome"),

		invocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "hub_invocation_duration_seconds",
			Help:        "Hub invocation round trip duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"hub"}),

		pendingCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "hub_pending_invocations",
			Help:        "Hub invocations awaiting a result",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (p *Prometheus) StateChanged(from, to string) {
	p.stateTransitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) TransportSelected(transport string) {
	p.transportSelected.WithLabelValues(transport).Inc()
}

func (p *Prometheus) TransportFailed(transport string) {
	p.transportFailed.WithLabelValues(transport).Inc()
}

func (p *Prometheus) Reconnected(transport string) {
	p.reconnectsTotal.WithLabelValues(transport).Inc()
}

func (p *Prometheus) FrameReceived(transport string, messages int) {
	p.framesReceived.WithLabelValues(transport).Inc()
	p.messagesReceived.WithLabelValues(transport).Add(float64(messages))
}

func (p *Prometheus) InvocationStarted(string) {
	p.pendingCalls.Inc()
}

func (p *Prometheus) InvocationCompleted(hub, outcome string, elapsed time.Duration) {
	p.pendingCalls.Dec()
	p.invocationsTotal.WithLabelValues(hub, outcome).Inc()
	p.invocationDuration.WithLabelValues(hub).Observe(elapsed.Seconds())
}
