package constants

import "errors"

// Errors
var (
	ErrNegotiationFailed         = errors.New("error during negotiation request")
	ErrIncompatibleProtocol      = errors.New("incompatible protocol version")
	ErrNoTransportAvailable      = errors.New("no transport could be initialized successfully, try specifying a different transport or none at all for auto initialization")
	ErrInvalidTransport          = errors.New("invalid transport(s) specified, aborting start")
	ErrNotStarted                = errors.New("connection must be started before data can be sent, call Start before Send")
	ErrNotInitialized            = errors.New("connection has not been fully initialized, wait for Start to return before sending")
	ErrConnectionStopped         = errors.New("connection was stopped")
	ErrLostConnectionUnsupported = errors.New("lost connection is not handled by this transport")
	ErrInvalidPingResponse       = errors.New("invalid ping response when pinging server")
	ErrNoBaseURL                 = errors.New("base url not set")
	ErrDuplicateTransport        = errors.New("transport already registered")
	ErrUnsupportedScheme         = errors.New("unsupported url scheme")
)
