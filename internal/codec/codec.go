// Package codec abstracts how payloads sent by Connection.Send and bodies
// returned by the server are encoded.
package codec

// Marshaler encodes values passed to Send that are not already raw bytes.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
}

// Unmarshaler decodes negotiate and ping responses.
type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
}
