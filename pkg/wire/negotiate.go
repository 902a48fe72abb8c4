package wire

import "bytes"

// NegotiateResponse is the server's answer to the negotiate request.
// Timeouts are expressed in seconds.
type NegotiateResponse struct {
	URL                     string   `json:"Url"`
	ConnectionID            string   `json:"ConnectionId"`
	ConnectionToken         string   `json:"ConnectionToken"`
	WebSocketServerURL      string   `json:"WebSocketServerUrl,omitempty"`
	KeepAliveTimeout        *float64 `json:"KeepAliveTimeout"`
	DisconnectTimeout       float64  `json:"DisconnectTimeout"`
	ConnectionTimeout       float64  `json:"ConnectionTimeout,omitempty"`
	TryWebSockets           bool     `json:"TryWebSockets"`
	ProtocolVersion         string   `json:"ProtocolVersion"`
	TransportConnectTimeout float64  `json:"TransportConnectTimeout,omitempty"`
	LongPollDelay           float64  `json:"LongPollDelay,omitempty"`
}

// PingResponse is the body of a successful ping.
type PingResponse struct {
	Response string `json:"Response"`
}

// Pong is the expected PingResponse.Response value.
const Pong = "pong"

// UnwrapJSONP strips a JSONP padding such as `cb({...});` and returns the
// wrapped JSON. Input that is not padded is returned unchanged.
func UnwrapJSONP(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	open := bytes.IndexByte(trimmed, '(')
	end := bytes.LastIndexByte(trimmed, ')')
	if open < 0 || end <= open {
		return trimmed
	}
	return bytes.TrimSpace(trimmed[open+1 : end])
}
