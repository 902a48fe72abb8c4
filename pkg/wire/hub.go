package wire

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// CorrelationID links a hub invocation with its result. It is sent as a
// string but accepted as either a string or a number.
type CorrelationID string

func (id *CorrelationID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = CorrelationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = CorrelationID(n.String())
	return nil
}

// NewCorrelationID formats a counter value.
func NewCorrelationID(n uint64) CorrelationID {
	return CorrelationID(strconv.FormatUint(n, 10))
}

// State is a per-hub state dictionary or a delta applied to one.
type State map[string]json.RawMessage

// HubInvocation is a client to server call.
type HubInvocation struct {
	Hub    string            `json:"H"`
	Method string            `json:"M"`
	Args   []json.RawMessage `json:"A"`
	ID     CorrelationID     `json:"I"`
	State  State             `json:"S,omitempty"`
}

// HubResult is the server's answer to a HubInvocation.
type HubResult struct {
	State      State           `json:"S,omitempty"`
	Result     json.RawMessage `json:"R,omitempty"`
	ID         CorrelationID   `json:"I"`
	Error      string          `json:"E,omitempty"`
	StackTrace string          `json:"T,omitempty"`
}

// ClientHubInvocation is a server to client call.
type ClientHubInvocation struct {
	Hub    string            `json:"H"`
	Method string            `json:"M"`
	Args   []json.RawMessage `json:"A"`
	State  State             `json:"S,omitempty"`
}

// IsHubResult reports whether a received message is a correlated result.
func IsHubResult(data []byte) bool {
	return HasKey(data, "I")
}

// EncodeArgs marshals each argument on its own so the receiving side can decode
// them independently. Functions have no JSON form and are sent as null.
func EncodeArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		if a == nil || isFunc(a) {
			out[i] = json.RawMessage("null")
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Merge copies delta into dst, last write wins per key.
func (s State) Merge(delta State) {
	for k, v := range delta {
		s[k] = v
	}
}

// Clone returns a copy safe to hand to callers.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
