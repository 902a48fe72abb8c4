package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

// PersistentResponse is a decoded transport frame.
type PersistentResponse struct {
	MessageID   string
	Messages    []json.RawMessage
	Disconnect  bool
	TimedOut    bool
	GroupsToken string

	// LongPollDelay is only meaningful when HasLongPollDelay is set.
	LongPollDelay    time.Duration
	HasLongPollDelay bool
}

type minPersistentResponse struct {
	C string            `json:"C,omitempty"`
	M []json.RawMessage `json:"M,omitempty"`
	L *float64          `json:"L,omitempty"`
	G string            `json:"G,omitempty"`
}

// DecodePersistentResponse decodes a frame. An empty input decodes to an empty
// response, which transports treat as a bare heartbeat.
func DecodePersistentResponse(data []byte) (*PersistentResponse, error) {
	res := &PersistentResponse{}
	if len(data) == 0 {
		return res, nil
	}

	var compact minPersistentResponse
	if err := json.Unmarshal(data, &compact); err != nil {
		return nil, fmt.Errorf("decode persistent response: %w", err)
	}

	res.MessageID = compact.C
	res.Messages = compact.M
	res.GroupsToken = compact.G
	if compact.L != nil {
		res.HasLongPollDelay = true
		res.LongPollDelay = time.Duration(*compact.L * float64(time.Millisecond))
	}
	res.Disconnect = HasKey(data, "D")
	res.TimedOut = HasKey(data, "T")

	return res, nil
}

// Encode renders the response in its compact form. Flags are written as 1.
func (r *PersistentResponse) Encode() ([]byte, error) {
	type frame struct {
		minPersistentResponse
		D *int `json:"D,omitempty"`
		T *int `json:"T,omitempty"`
	}
	one := 1
	f := frame{minPersistentResponse: minPersistentResponse{
		C: r.MessageID,
		M: r.Messages,
		G: r.GroupsToken,
	}}
	if r.HasLongPollDelay {
		ms := float64(r.LongPollDelay / time.Millisecond)
		f.L = &ms
	}
	if r.Disconnect {
		f.D = &one
	}
	if r.TimedOut {
		f.T = &one
	}
	return json.Marshal(f)
}

// HasKey reports whether the top-level JSON object in data carries key,
// regardless of its value.
func HasKey(data []byte, key string) bool {
	_, _, _, err := jsonparser.Get(data, key)
	return err == nil
}

// IsPersistentResponse reports whether a message read from a socket is a
// persistent response (an empty object, or an object carrying M or D) as
// opposed to a payload that should be raised as received as-is.
func IsPersistentResponse(data []byte) bool {
	if HasKey(data, "M") || HasKey(data, "D") {
		return true
	}
	empty := true
	err := jsonparser.ObjectEach(data, func(_, _ []byte, _ jsonparser.ValueType, _ int) error {
		empty = false
		return errStopIteration
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return false
	}
	return empty
}

var errStopIteration = errors.New("stop")
