package constants

import "time"

// ProtocolVersion is the only negotiation protocol version this client speaks.
const ProtocolVersion = "1.2"

// ClientProtocol is sent as the clientProtocol query parameter.
const ClientProtocol = "1.2"

const (
	// DefaultReconnectDelay is the wait between losing a transport and retrying it.
	DefaultReconnectDelay = 2 * time.Second
	// DefaultDisconnectTimeout applies until negotiation reports the server's value.
	DefaultDisconnectTimeout = 40 * time.Second
	// DefaultKeepAliveWarnAt is the fraction of the keep-alive timeout after which
	// the connection is reported slow.
	DefaultKeepAliveWarnAt = 2.0 / 3.0
	// DefaultHTTPTimeout bounds negotiate, ping and send requests.
	DefaultHTTPTimeout = 30 * time.Second
	// AbortTimeout bounds the abort notice sent on stop.
	AbortTimeout = time.Second
	// SSEConnectTimeout is how long an event stream may take to open.
	SSEConnectTimeout = 3 * time.Second
	// LongPollingReconnectDelay is the wait between failed pings.
	LongPollingReconnectDelay = 3 * time.Second
	// LongPollingConnectGrace fires the connected callback even if the first
	// poll is still held by the server.
	LongPollingConnectGrace = 250 * time.Millisecond
	// LongPollingTimeoutPadding is added to the server's connection timeout to
	// bound a single poll.
	LongPollingTimeoutPadding = 10 * time.Second
)

// Endpoint suffixes relative to the connection URL.
const (
	NegotiatePath = "/negotiate"
	ConnectPath   = "/connect"
	ReconnectPath = "/reconnect"
	SendPath      = "/send"
	AbortPath     = "/abort"
	PingPath      = "/ping"
)

const (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

// CloseMessageCode is the websocket close code sent on a local stop.
const CloseMessageCode = 1000

// Built-in transport names, in default priority order.
const (
	TransportWebSockets       = "webSockets"
	TransportServerSentEvents = "serverSentEvents"
	TransportLongPolling      = "longPolling"
)
