package codec

import (
	"github.com/goccy/go-json"
)

// JSON is the default codec. SignalR frames, negotiation responses and hub
// payloads are all JSON.
type JSON struct{}

var (
	_ Marshaler   = JSON{}
	_ Unmarshaler = JSON{}
)

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}
