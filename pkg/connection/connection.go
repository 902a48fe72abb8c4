package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/surrealdb/signalr.go/internal/codec"
	"github.com/surrealdb/signalr.go/internal/rand"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/event"
	"github.com/surrealdb/signalr.go/pkg/logger"
	"github.com/surrealdb/signalr.go/pkg/metrics"
)

// Connection is a persistent connection to a server endpoint.
//
// It negotiates a session, selects a transport and keeps the session alive
// until Stop is called. All methods are safe for concurrent use.
type Connection struct {
	url         string
	baseURL     string
	host        string
	wsScheme    string
	qs          string
	crossDomain bool
	clientID    string

	logger          logger.Logger
	clock           clockwork.Clock
	httpClient      *http.Client
	metrics         metrics.Collector
	registry        *Registry
	marshaler       codec.Marshaler
	unmarshaler     codec.Unmarshaler
	reconnectDelay  time.Duration
	keepAliveWarnAt float64

	mu        sync.Mutex
	state     State
	stopping  bool
	session   session
	transport Transport
	jsonp     bool
	callback  string
	lifetime  context.Context
	cancel    context.CancelFunc
	keepAlive keepAliveData
	guard     clockwork.Timer

	starting       event.Event[struct{}]
	received       event.Event[json.RawMessage]
	errored        event.Event[error]
	reconnecting   event.Event[struct{}]
	reconnected    event.Event[struct{}]
	connectionSlow event.Event[struct{}]
	stateChanged   event.Event[StateChange]
	disconnected   event.Event[struct{}]
}

// session is the state negotiated for one start and cleared on stop.
type session struct {
	id                      string
	token                   string
	appRelativeURL          string
	webSocketServerURL      string
	messageID               string
	groupsToken             string
	data                    string
	disconnectTimeout       time.Duration
	transportConnectTimeout time.Duration
	longPollDelay           time.Duration
	pollTimeout             time.Duration
}

// StartConfig controls a single Start call.
type StartConfig struct {
	// Transport lists the transports to try in order. Empty means auto.
	Transport []TransportChoice

	// WaitForReady delays the start until it is closed.
	WaitForReady <-chan struct{}

	// JSONP wraps HTTP requests in a JSONP callback and forces longPolling
	// when transports are selected automatically.
	JSONP bool

	// Callback runs after the connection reaches the connected state.
	Callback func()
}

// New creates a disconnected Connection for the given endpoint.
func New(endpoint string, opts ...Option) (*Connection, error) {
	cfg := NewConfig(endpoint)
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return FromConfig(cfg)
}

// FromConfig creates a Connection from a complete Config.
func FromConfig(cfg *Config) (*Connection, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}

	c := &Connection{
		url:             cfg.URL,
		baseURL:         fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		host:            u.Host,
		wsScheme:        constants.WebsocketScheme,
		qs:              cfg.QueryString,
		clientID:        id.String(),
		logger:          cfg.Logger.With("client_id", id.String()),
		clock:           cfg.Clock,
		httpClient:      cfg.HTTPClient,
		metrics:         cfg.Metrics,
		registry:        cfg.Registry,
		marshaler:       cfg.Marshaler,
		unmarshaler:     cfg.Unmarshaler,
		reconnectDelay:  cfg.ReconnectDelay,
		keepAliveWarnAt: cfg.KeepAliveWarnAt,
		state:           StateDisconnected,
	}
	if u.Scheme == constants.HTTPSecureScheme {
		c.wsScheme = constants.SecureWebsocketScheme
	}
	if cfg.Origin != "" {
		if o, err := url.Parse(cfg.Origin); err == nil {
			c.crossDomain = o.Scheme != u.Scheme || o.Host != u.Host
		}
	}
	return c, nil
}

// Start negotiates a session and starts the first transport that succeeds.
//
// It blocks until the connection is connected or the start failed. Calling
// Start on a connection that is already connecting or connected returns nil
// immediately, while a stop in progress makes it return ErrConnectionStopped.
// On failure the connection is stopped and the error returned.
func (c *Connection) Start(ctx context.Context, cfg StartConfig) error {
	if err := c.registry.validateChoices(cfg.Transport); err != nil {
		c.logger.Error("Invalid transport configuration", "error", err)
		return err
	}

	if cfg.WaitForReady != nil {
		select {
		case <-cfg.WaitForReady:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return constants.ErrConnectionStopped
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.lifetime, c.cancel = context.WithCancel(context.Background())
	lifetime := c.lifetime
	c.jsonp = cfg.JSONP
	if cfg.JSONP {
		c.callback = "signalr_" + rand.NewID(8)
	}
	c.mu.Unlock()
	c.afterTransition(StateDisconnected, StateConnecting)

	attemptCtx, stopAttempt := context.WithCancel(ctx)
	defer stopAttempt()
	unlink := context.AfterFunc(lifetime, stopAttempt)
	defer unlink()

	fail := func(err error) error {
		if c.IsDisconnecting() {
			return constants.ErrConnectionStopped
		}
		c.EmitError(err)
		c.Stop()
		return err
	}

	res, err := c.negotiate(attemptCtx)
	if err != nil {
		return fail(err)
	}

	c.mu.Lock()
	if c.state != StateConnecting || c.stopping {
		c.mu.Unlock()
		return constants.ErrConnectionStopped
	}
	c.applyNegotiation(res)
	c.mu.Unlock()

	c.emit("starting", c.starting.Emit(struct{}{}))

	choices := cfg.Transport
	auto := len(choices) == 0 || (len(choices) == 1 && choices[0].isAuto())
	switch {
	case auto && cfg.JSONP:
		choices = Names(constants.TransportLongPolling)
	case auto && c.crossDomain:
		choices = Names(constants.TransportWebSockets, constants.TransportLongPolling)
	}

	var supported []string
	for _, name := range c.registry.Names() {
		if name == constants.TransportWebSockets && !res.TryWebSockets {
			continue
		}
		supported = append(supported, name)
	}

	for _, cand := range c.registry.candidates(choices, supported) {
		t := cand.make()
		if t == nil {
			continue
		}
		err := c.tryTransport(attemptCtx, t)
		if err == nil {
			return c.completeStart(t, cfg.Callback)
		}
		if c.IsDisconnecting() {
			return constants.ErrConnectionStopped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		c.metrics.TransportFailed(cand.name)
		c.logger.Info("Transport failed to start, trying next", "transport", cand.name, "error", err)
	}

	return fail(constants.ErrNoTransportAvailable)
}

// tryTransport starts t and waits for its outcome.
func (c *Connection) tryTransport(ctx context.Context, t Transport) error {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()

	c.logger.Debug("Starting transport", "transport", t.Name())

	result := make(chan error, 1)
	var once sync.Once
	report := func(err error) {
		once.Do(func() { result <- err })
	}
	t.Start(ctx, c,
		func() { report(nil) },
		func(err error) {
			if err == nil {
				err = fmt.Errorf("transport %s failed to start", t.Name())
			}
			report(err)
		},
	)

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		t.Stop(c)
		c.mu.Lock()
		if c.transport == t {
			c.transport = nil
		}
		c.mu.Unlock()
	}
	return err
}

func (c *Connection) completeStart(t Transport, callback func()) error {
	c.mu.Lock()
	current := c.transport == t && c.state == StateConnecting && !c.stopping
	monitor := t.SupportsKeepAlive() && c.keepAlive.activated
	c.mu.Unlock()
	if !current {
		t.Stop(c)
		return constants.ErrConnectionStopped
	}

	if monitor {
		c.monitorKeepAlive()
	}
	if !c.ChangeState(StateConnecting, StateConnected) {
		return constants.ErrConnectionStopped
	}

	c.metrics.TransportSelected(t.Name())
	c.logger.Info("Connection started", "transport", t.Name(), "connection_id", c.ID())

	if callback != nil {
		callback()
	}
	return nil
}

// Send delivers payload to the server over the active transport.
// Strings and byte slices are sent as-is, anything else is marshaled.
func (c *Connection) Send(ctx context.Context, payload any) error {
	c.mu.Lock()
	state, t := c.state, c.transport
	c.mu.Unlock()

	switch {
	case state == StateDisconnected:
		return constants.ErrNotStarted
	case state == StateConnecting:
		return constants.ErrNotInitialized
	case t == nil:
		return constants.ErrNotStarted
	}

	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = c.marshaler.Marshal(v); err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
	}
	return t.Send(ctx, c, data)
}

// Stop stops the connection, waiting for the server to acknowledge the abort.
func (c *Connection) Stop() {
	c.StopWith(true, true)
}

// StopWith stops the connection. When notifyServer is false no abort
// request is sent. When waitForServer is false the abort is sent in the
// background. The connection always ends up disconnected with its session
// identifiers cleared. Stopping a disconnected connection does nothing.
func (c *Connection) StopWith(waitForServer, notifyServer bool) {
	c.mu.Lock()
	if c.state == StateDisconnected || c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	t := c.transport
	c.transport = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	defer c.commitDisconnected()

	c.logger.Info("Stopping connection")
	if cancel != nil {
		cancel()
	}
	c.stopMonitoringKeepAlive()
	c.disarmDisconnectGuard()

	if t != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Transport panicked while stopping", "transport", t.Name(), "panic", r)
				}
			}()
			if notifyServer {
				t.Abort(c, !waitForServer)
			}
			t.Stop(c)
		}()
	}

	c.emit("disconnected", c.disconnected.Emit(struct{}{}))

	c.mu.Lock()
	c.session.messageID = ""
	c.session.groupsToken = ""
	c.session.id = ""
	c.mu.Unlock()
}

func (c *Connection) commitDisconnected() {
	c.mu.Lock()
	old := c.state
	c.state = StateDisconnected
	c.stopping = false
	c.mu.Unlock()

	if old != StateDisconnected {
		c.afterTransition(old, StateDisconnected)
	}
}

// emit reports subscriber failures for the named event.
func (c *Connection) emit(name string, errs []error) {
	for _, err := range errs {
		c.logger.Error("Event handler failed", "event", name, "error", err)
		c.EmitError(&DispatchError{Event: name, Err: err})
	}
}

// EmitError raises the error event.
func (c *Connection) EmitError(err error) {
	for _, herr := range c.errored.Emit(err) {
		c.logger.Error("Error handler failed", "error", herr)
	}
}

// RaiseReceived raises the received event for a single message.
func (c *Connection) RaiseReceived(msg json.RawMessage) {
	for _, err := range c.received.Emit(msg) {
		c.logger.Error("Error triggering received handler", "error", err)
		c.EmitError(&DispatchError{Event: "received", Message: msg, Err: err})
	}
}

// OnStarting subscribes to the starting event, raised after negotiation and
// before the first transport is tried.
func (c *Connection) OnStarting(fn func()) *event.Subscription {
	return c.starting.On(func(struct{}) { fn() })
}

// OnReceived subscribes to every message raised by the connection.
func (c *Connection) OnReceived(fn func(json.RawMessage)) *event.Subscription {
	return c.received.On(fn)
}

func (c *Connection) OnError(fn func(error)) *event.Subscription {
	return c.errored.On(fn)
}

func (c *Connection) OnReconnecting(fn func()) *event.Subscription {
	return c.reconnecting.On(func(struct{}) { fn() })
}

func (c *Connection) OnReconnected(fn func()) *event.Subscription {
	return c.reconnected.On(func(struct{}) { fn() })
}

// OnConnectionSlow subscribes to the keep-alive warning.
func (c *Connection) OnConnectionSlow(fn func()) *event.Subscription {
	return c.connectionSlow.On(func(struct{}) { fn() })
}

func (c *Connection) OnStateChanged(fn func(StateChange)) *event.Subscription {
	return c.stateChanged.On(fn)
}

func (c *Connection) OnDisconnected(fn func()) *event.Subscription {
	return c.disconnected.On(func(struct{}) { fn() })
}

// ClientID identifies this client in logs. It is never sent to the server.
func (c *Connection) ClientID() string {
	return c.clientID
}

func (c *Connection) URL() string {
	return c.url
}

// ID returns the negotiated connection id.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.id
}

// Token returns the negotiated connection token.
func (c *Connection) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.token
}

// MessageID returns the cursor of the last processed frame.
func (c *Connection) MessageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.messageID
}

func (c *Connection) GroupsToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.groupsToken
}

// Data returns the connectionData sent with transport requests.
func (c *Connection) Data() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.data
}

// SetConnectionData sets the connectionData sent with transport requests.
func (c *Connection) SetConnectionData(data string) {
	c.mu.Lock()
	c.session.data = data
	c.mu.Unlock()
}

// TransportName returns the name of the active transport, if any.
func (c *Connection) TransportName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return ""
	}
	return c.transport.Name()
}

// Context is cancelled when the connection stops. Transports bind their
// background work to it.
func (c *Connection) Context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifetime == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.lifetime
}

func (c *Connection) Logger() logger.Logger {
	return c.logger
}

func (c *Connection) Clock() clockwork.Clock {
	return c.clock
}

func (c *Connection) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Connection) Unmarshaler() codec.Unmarshaler {
	return c.unmarshaler
}

func (c *Connection) ReconnectDelay() time.Duration {
	return c.reconnectDelay
}

// TransportConnectTimeout returns the negotiated transport connect timeout,
// or fallback when the server did not send one.
func (c *Connection) TransportConnectTimeout(fallback time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.transportConnectTimeout > 0 {
		return c.session.transportConnectTimeout
	}
	return fallback
}

// LongPollDelay is the negotiated wait between completed polls.
func (c *Connection) LongPollDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.longPollDelay
}

// PollTimeout bounds a single long poll. Zero means the server did not send
// a connection timeout and polls are only bounded by the HTTP client.
func (c *Connection) PollTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.pollTimeout
}

// IsJSONP reports whether HTTP requests use JSONP padding.
func (c *Connection) IsJSONP() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jsonp
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
